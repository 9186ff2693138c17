package config

import (
	"fmt"
	"time"
)

// Config represents a stitch.yaml configuration file.
// All values act as defaults for stitch sync flags; CLI flags always
// override config values. Secrets support ${VAR} expansion.
type Config struct {
	Org         string   `yaml:"org"`
	StatePath   string   `yaml:"state_path"`
	SpoolDir    string   `yaml:"spool_dir"`
	Days        int      `yaml:"days"`
	Concurrency int      `yaml:"concurrency"`
	PushTimeout Duration `yaml:"push_timeout"`

	Salesforce SalesforceConfig `yaml:"salesforce"`
	PayPal     PayPalConfig     `yaml:"paypal"`
	Eventbrite EventbriteConfig `yaml:"eventbrite"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Notify     NotifyConfig     `yaml:"notify"`
	Sentry     SentryConfig     `yaml:"sentry"`
}

// SalesforceConfig holds CRM credentials and options.
type SalesforceConfig struct {
	LoginURL     string `yaml:"login_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	APIVersion   string `yaml:"api_version,omitempty"`
	CampaignID   string `yaml:"campaign_id,omitempty"`
}

// PayPalConfig holds PayPal reporting API credentials.
type PayPalConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url,omitempty"`
}

// EventbriteConfig holds Eventbrite API credentials.
type EventbriteConfig struct {
	Token          string `yaml:"token"`
	OrganizationID string `yaml:"organization_id"`
	BaseURL        string `yaml:"base_url,omitempty"`
}

// ArchiveConfig holds raw-record archive settings.
type ArchiveConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"` // fs or s3
	Path        string `yaml:"path"`    // fs: directory, s3: bucket/prefix
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// NotifyConfig holds completion notification settings.
type NotifyConfig struct {
	Type    string            `yaml:"type"` // webhook or redis
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// SentryConfig holds error tracking settings.
type SentryConfig struct {
	Enable      bool   `yaml:"enable"`
	DSN         string `yaml:"dsn,omitempty"`
	Environment string `yaml:"environment,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
