package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go-sitewatch/internal/monitor"
)

// Config is the on-disk configuration. ${VAR} references are expanded from the
// environment before parsing, so credentials never need to live in the file.
type Config struct {
	// Interval is kept as text so an unparseable value can fall back to the
	// default instead of failing the whole load.
	Interval   string   `yaml:"interval"`
	Sites      []string `yaml:"sites"`
	Recipients []string `yaml:"recipients"`

	Probe    Probe    `yaml:"probe"`
	Notifier Notifier `yaml:"notifier"`
	Store    Store    `yaml:"store"`
	HTTP     HTTP     `yaml:"http"`
	SSH      SSH      `yaml:"ssh"`
	Cluster  Cluster  `yaml:"cluster"`
	Log      Log      `yaml:"log"`

	// compiled
	interval     int
	probeTimeout time.Duration
	sendTimeout  time.Duration
	clusterPoll  time.Duration
}

type Probe struct {
	Timeout   string `yaml:"timeout"`
	Parallel  int    `yaml:"parallel"`
	IgnoreTLS bool   `yaml:"ignore_tls"`
	MaxBody   int64  `yaml:"max_body"`
}

type Notifier struct {
	Transport     string         `yaml:"transport"`
	RatePerSecond float64        `yaml:"rate_per_second"`
	Timeout       string         `yaml:"timeout"`
	Twilio        TwilioConfig   `yaml:"twilio"`
	SMTP          SMTPConfig     `yaml:"smtp"`
	Telegram      TelegramConfig `yaml:"telegram"`
	Webhook       WebhookConfig  `yaml:"webhook"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	// Channel is "whatsapp" or "sms".
	Channel string `yaml:"channel"`
	BaseURL string `yaml:"base_url"`
}

type SMTPConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	From string `yaml:"from"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	BaseURL  string `yaml:"base_url"`
}

type WebhookConfig struct {
	Method string `yaml:"method"`
}

type Store struct {
	// Driver is one of none, sqlite, postgres, leveldb.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HTTP struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Secret  string `yaml:"secret"`
}

type SSH struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	HostKey        string `yaml:"host_key"`
	AuthorizedKeys string `yaml:"authorized_keys"`
}

// Cluster configures a leader/follower pair. A follower only monitors while
// the leader's health endpoint is unreachable.
type Cluster struct {
	// Mode is empty, leader or follower.
	Mode      string `yaml:"mode"`
	PeerURL   string `yaml:"peer_url"`
	SharedKey string `yaml:"shared_key"`
	Poll      string `yaml:"poll"`
	Threshold int    `yaml:"threshold"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	if err := cfg.Apply(); err != nil {
		panic(err)
	}
	return cfg
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse expands environment references in data and decodes it.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Apply(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply fills defaults and compiles derived values. It must be called again
// after fields are changed, e.g. by command line flags.
func (c *Config) Apply() error {
	c.interval = ParseInterval(c.Interval)

	if c.Probe.Parallel <= 0 {
		c.Probe.Parallel = 1
	}
	c.probeTimeout = monitor.DefaultProbeTimeout
	if c.Probe.Timeout != "" {
		d, err := time.ParseDuration(c.Probe.Timeout)
		if err != nil {
			return fmt.Errorf("probe.timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("probe.timeout must be positive, got %s", c.Probe.Timeout)
		}
		c.probeTimeout = d
	}

	c.Notifier.Transport = strings.ToLower(strings.TrimSpace(c.Notifier.Transport))
	if c.Notifier.Transport == "" {
		c.Notifier.Transport = "log"
	}
	if c.Notifier.RatePerSecond < 0 {
		return fmt.Errorf("notifier.rate_per_second must not be negative")
	}
	c.sendTimeout = 10 * time.Second
	if c.Notifier.Timeout != "" {
		d, err := time.ParseDuration(c.Notifier.Timeout)
		if err != nil {
			return fmt.Errorf("notifier.timeout: %w", err)
		}
		c.sendTimeout = d
	}
	if c.Notifier.Twilio.Channel == "" {
		c.Notifier.Twilio.Channel = "whatsapp"
	}
	if c.Notifier.SMTP.Port == "" {
		c.Notifier.SMTP.Port = "25"
	}
	if c.Notifier.Webhook.Method == "" {
		c.Notifier.Webhook.Method = "POST"
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Store.Driver == "" {
		c.Store.Driver = "none"
	}
	switch c.Store.Driver {
	case "none":
	case "sqlite", "postgres", "leveldb":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver %q not supported", c.Store.Driver)
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.SSH.Addr == "" {
		c.SSH.Addr = ":23234"
	}
	if c.SSH.HostKey == "" {
		c.SSH.HostKey = ".ssh/id_ed25519"
	}
	if c.SSH.AuthorizedKeys == "" {
		c.SSH.AuthorizedKeys = "authorized_keys"
	}
	c.Cluster.Mode = strings.ToLower(strings.TrimSpace(c.Cluster.Mode))
	switch c.Cluster.Mode {
	case "", "leader":
	case "follower":
		if c.Cluster.PeerURL == "" {
			return fmt.Errorf("cluster.peer_url is required in follower mode")
		}
	default:
		return fmt.Errorf("cluster.mode %q not supported", c.Cluster.Mode)
	}
	if c.Cluster.Poll != "" {
		d, err := time.ParseDuration(c.Cluster.Poll)
		if err != nil {
			return fmt.Errorf("cluster.poll: %w", err)
		}
		c.clusterPoll = d
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	return nil
}

// IntervalSeconds is the parsed probe interval.
func (c Config) IntervalSeconds() int { return c.interval }

// IntervalValid reports whether the configured interval text was usable as is.
func (c Config) IntervalValid() bool {
	n, err := strconv.Atoi(strings.TrimSpace(c.Interval))
	return err == nil && n > 0
}

func (c Config) ProbeTimeout() time.Duration { return c.probeTimeout }

func (c Config) SendTimeout() time.Duration { return c.sendTimeout }

// ClusterPoll is zero when unset.
func (c Config) ClusterPoll() time.Duration { return c.clusterPoll }

// ParseInterval converts s to a positive number of seconds, falling back to
// monitor.DefaultInterval.
func ParseInterval(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return monitor.DefaultInterval
	}
	return n
}
