package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models reviewline.yml.
type Config struct {
	Review  ReviewConfig  `yaml:"review"`
	Notify  NotifyConfig  `yaml:"notify"`
	Content ContentConfig `yaml:"content"`
	// Webhooks receive audit records as they are written.
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Log      struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

type ReviewConfig struct {
	// InitialLocks is the default queue size handed to a reviewer.
	InitialLocks int `yaml:"initial_locks"`
	// LockDuration is how long a lease stays exclusive without a refresh.
	LockDuration     time.Duration `yaml:"lock_duration"`
	AllowSelfReviews bool          `yaml:"allow_self_reviews"`
	// SeniorRecipients receive flag notifications.
	SeniorRecipients []string `yaml:"senior_recipients"`
}

type NotifyConfig struct {
	// Driver is one of log, smtp, redis; several may be joined with commas.
	Driver  string `yaml:"driver"`
	From    string `yaml:"from"`
	ReplyTo string `yaml:"reply_to"`
	BaseURL string `yaml:"base_url"`
	SMTP    struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		User          string `yaml:"user"`
		Password      string `yaml:"password"`
		SkipTLSVerify bool   `yaml:"skip_tls_verify"`
	} `yaml:"smtp"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Key      string `yaml:"key"`
	} `yaml:"redis"`
}

type ContentConfig struct {
	// Driver is one of fs, s3, none.
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	S3     struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"s3"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// NotifyDrivers splits the driver list.
func (c NotifyConfig) NotifyDrivers() []string {
	var out []string
	for _, d := range strings.Split(c.Driver, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Review.InitialLocks <= 0 {
		return fmt.Errorf("config.review.initial_locks must be positive")
	}
	if c.Review.LockDuration <= 0 {
		return fmt.Errorf("config.review.lock_duration must be positive")
	}
	for _, r := range c.Review.SeniorRecipients {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("config.review.senior_recipients contains an empty address")
		}
	}
	for _, d := range c.Notify.NotifyDrivers() {
		switch d {
		case "log":
		case "smtp":
			if c.Notify.SMTP.Host == "" || c.Notify.From == "" {
				return fmt.Errorf("notify driver smtp requires notify.smtp.host and notify.from")
			}
		case "redis":
			if c.Notify.Redis.Addr == "" {
				return fmt.Errorf("notify driver redis requires notify.redis.addr")
			}
		default:
			return fmt.Errorf("unknown notify driver %q", d)
		}
	}
	for i, h := range c.Webhooks {
		if strings.TrimSpace(h.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url required", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	switch c.Content.Driver {
	case "", "none", "fs":
	case "s3":
		if c.Content.S3.Endpoint == "" || c.Content.S3.Bucket == "" {
			return fmt.Errorf("content driver s3 requires content.s3.endpoint and content.s3.bucket")
		}
	default:
		return fmt.Errorf("unknown content driver %q", c.Content.Driver)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reviewline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `review:
  initial_locks: 20
  lock_duration: 40m
  allow_self_reviews: false
  senior_recipients: [themes@example.org]

notify:
  driver: log
  from: no-reply@example.org
  reply_to: themes@example.org
  base_url: http://localhost:8080
  smtp:
    port: 587
  redis:
    key: reviewline:notifications

content:
  driver: fs
  dir: .reviewline/content

webhooks: []

log:
  level: info
`
