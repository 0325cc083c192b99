package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

const envVarPrefix = "SITEWATCH"

var (
	rootfs       = flag.NewFlagSet("sitewatch", flag.ExitOnError)
	configFlag   = rootfs.String("config", "", "path to the YAML configuration file")
	logLevelFlag = rootfs.String("loglevel", "", "log level override (debug|info|warn|error)")
)

func main() {
	ctx := context.Background()

	opts := []ff.Option{ff.WithEnvVarPrefix(envVarPrefix)}

	runcmd := &ffcli.Command{
		Name:       "run",
		ShortUsage: "sitewatch [flags] run [run flags] [url ...]",
		ShortHelp:  "monitor sites until interrupted",
		LongHelp: `The run subcommand probes every configured site, sends an alert when a site
goes offline and reports content changes. URLs given as arguments are added
to the configured sites. On a terminal a dashboard is shown, otherwise one
line per site and cycle is printed.`,
		FlagSet: runfs,
		Exec:    execRun,
		Options: opts,
	}

	checkcmd := &ffcli.Command{
		Name:       "check",
		ShortUsage: "sitewatch [flags] check [url ...]",
		ShortHelp:  "probe every site once and exit non-zero if any is offline",
		FlagSet:    checkfs,
		Exec:       execCheck,
		Options:    opts,
	}

	historycmd := &ffcli.Command{
		Name:       "history",
		ShortUsage: "sitewatch [flags] history [history flags]",
		ShortHelp:  "print recorded observations or alerts",
		FlagSet:    historyfs,
		Exec:       execHistory,
		Options:    opts,
	}

	rootcmd := &ffcli.Command{
		Name:        "sitewatch",
		ShortUsage:  "sitewatch [flags] <subcommand> [subcommand flags]",
		ShortHelp:   "sitewatch watches websites for downtime and content changes",
		FlagSet:     rootfs,
		Subcommands: []*ffcli.Command{runcmd, checkcmd, historycmd},
		Options:     opts,
		Exec: func(context.Context, []string) error {
			rootfs.Usage()
			return flag.ErrHelp
		},
	}

	if err := rootcmd.ParseAndRun(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
