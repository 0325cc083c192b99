package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"go-sitewatch/internal/console"
	"go-sitewatch/internal/models"
	"go-sitewatch/internal/store"
)

var (
	historyfs  = flag.NewFlagSet("history", flag.ExitOnError)
	limitFlag  = historyfs.Int("limit", 20, "number of entries to print, newest first")
	alertsFlag = historyfs.Bool("alerts", false, "print alert deliveries instead of observations")
)

func execHistory(ctx context.Context, _ []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	history, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	if history == nil {
		return errors.New("no history store configured (store.driver is none)")
	}
	defer history.Close()

	if *alertsFlag {
		recs, err := history.RecentAlerts(ctx, *limitFlag)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tURL\tRECIPIENT\tVIA\tRESULT")
		for _, r := range recs {
			result := "sent"
			if !r.Delivered() {
				result = "failed: " + r.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.At.Format(models.TimeLayout), r.URL, r.Recipient, r.Transport, result)
		}
		return w.Flush()
	}

	obs, err := history.RecentObservations(ctx, *limitFlag)
	if err != nil {
		return err
	}
	for _, o := range obs {
		fmt.Printf("[%s] %s\n", o.At.Format(models.TimeLayout), console.Line(o))
	}
	return nil
}
