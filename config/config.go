package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the top-level configuration structure
type Config struct {
	Service       ServiceConfig        `json:"service"`
	Ingestion     IngestionConfig      `json:"ingestion"`
	Storage       StorageConfig        `json:"storage"`
	API           APIConfig            `json:"api"`
	Query         QueryConfig          `json:"query"`
	Organizations []OrganizationConfig `json:"organizations"`
	Alerts        AlertsConfig         `json:"alerts"`
}

// ServiceConfig represents the service configuration section
type ServiceConfig struct {
	Name     string `json:"name"`
	LogLevel string `json:"logLevel"`
}

// IngestionConfig represents the ingestion configuration section
type IngestionConfig struct {
	HTTPEndpoint string `json:"httpEndpoint"`
}

// StorageConfig represents the storage configuration section
type StorageConfig struct {
	Sessions SessionsStorageConfig `json:"sessions"`
	Rollups  RollupStorageConfig   `json:"rollups"`
}

// SessionsStorageConfig configures the raw session store (BadgerDB)
type SessionsStorageConfig struct {
	DataPath        string `json:"dataPath"`
	MaxFileSizeMB   int    `json:"maxFileSizeMB,omitempty"`
	GCInterval      string `json:"gcInterval,omitempty"`
	RetentionPeriod string `json:"retentionPeriod,omitempty"`
}

// RollupStorageConfig configures the pre-aggregated rollup store
type RollupStorageConfig struct {
	RetentionPeriod string `json:"retentionPeriod,omitempty"`
}

// APIConfig represents the query API configuration section
type APIConfig struct {
	Port int `json:"port"`
}

// QueryConfig holds the query engine limits and defaults. Backend
// selects which store answers session queries: "sessions" (raw
// records) or "rollup" (pre-aggregated buckets).
type QueryConfig struct {
	Backend            string `json:"backend"`
	MaxBuckets         int    `json:"maxBuckets,omitempty"`
	MaxRows            int    `json:"maxRows,omitempty"`
	DefaultStatsPeriod string `json:"defaultStatsPeriod,omitempty"`
	DefaultInterval    string `json:"defaultInterval,omitempty"`
	DefaultPerPage     int    `json:"defaultPerPage,omitempty"`
	MaxPerPage         int    `json:"maxPerPage,omitempty"`
}

// OrganizationConfig declares an organization, its projects and the
// feature flags enabled for it
type OrganizationConfig struct {
	Slug     string          `json:"slug"`
	Projects []ProjectConfig `json:"projects"`
	Features []string        `json:"features,omitempty"`
}

// ProjectConfig declares a single project
type ProjectConfig struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AlertsConfig represents the alerts configuration section
type AlertsConfig struct {
	Email EmailConfig `json:"email"`
	Rules []AlertRule `json:"rules"`
}

// EmailConfig represents the email configuration for alerts
type EmailConfig struct {
	Enabled     bool     `json:"enabled"`
	SMTPServer  string   `json:"smtpServer"`
	SMTPPort    int      `json:"smtpPort"`
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	FromAddress string   `json:"fromAddress"`
	ToAddresses []string `json:"toAddresses"`
}

// AlertRule represents an alert rule configuration. Field is a session
// metric ("crash_rate(session)", "sum(session)", ...), Query an
// optional filter string and Window the lookback period.
type AlertRule struct {
	Name         string  `json:"name"`
	Organization string  `json:"organization"`
	Field        string  `json:"field"`
	Query        string  `json:"query,omitempty"`
	Threshold    float64 `json:"threshold"`
	Below        bool    `json:"below,omitempty"`
	Window       string  `json:"window"`
	Severity     string  `json:"severity"`
}

// LoadConfig loads and parses the configuration file
func LoadConfig(configPath string) (*Config, error) {
	// Read the configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse the JSON configuration
	var config Config
	err = json.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Validate the configuration
	err = validateConfig(&config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in the optional query limits
func (c *Config) applyDefaults() {
	if c.Query.Backend == "" {
		c.Query.Backend = "sessions"
	}
	if c.Query.MaxBuckets == 0 {
		c.Query.MaxBuckets = 1000
	}
	if c.Query.MaxRows == 0 {
		c.Query.MaxRows = 10000
	}
	if c.Query.DefaultStatsPeriod == "" {
		c.Query.DefaultStatsPeriod = "90d"
	}
	if c.Query.DefaultInterval == "" {
		c.Query.DefaultInterval = "1h"
	}
	if c.Query.DefaultPerPage == 0 {
		c.Query.DefaultPerPage = 100
	}
	if c.Query.MaxPerPage == 0 {
		c.Query.MaxPerPage = 1000
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate service configuration
	if config.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}

	// Validate API configuration
	if config.API.Port <= 0 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", config.API.Port)
	}

	// Validate ingestion endpoint
	if config.Ingestion.HTTPEndpoint == "" {
		return fmt.Errorf("ingestion HTTP endpoint is required")
	}

	// Validate storage paths
	if config.Storage.Sessions.DataPath == "" {
		return fmt.Errorf("sessions data path is required")
	}

	// Validate retention and GC periods if specified
	if p := config.Storage.Sessions.RetentionPeriod; p != "" {
		if _, err := ParseDuration(p); err != nil {
			return fmt.Errorf("invalid sessions retention period: %w", err)
		}
	}
	if p := config.Storage.Sessions.GCInterval; p != "" {
		if _, err := ParseDuration(p); err != nil {
			return fmt.Errorf("invalid sessions gc interval: %w", err)
		}
	}
	if p := config.Storage.Rollups.RetentionPeriod; p != "" {
		if _, err := ParseDuration(p); err != nil {
			return fmt.Errorf("invalid rollup retention period: %w", err)
		}
	}

	// Validate the query backend selection
	switch config.Query.Backend {
	case "", "sessions", "rollup":
	default:
		return fmt.Errorf("unknown query backend: %q", config.Query.Backend)
	}

	// Validate organizations
	seen := make(map[string]bool)
	for _, org := range config.Organizations {
		if org.Slug == "" {
			return fmt.Errorf("organization slug is required")
		}
		if seen[org.Slug] {
			return fmt.Errorf("duplicate organization slug: %s", org.Slug)
		}
		seen[org.Slug] = true
		for _, p := range org.Projects {
			if p.ID <= 0 {
				return fmt.Errorf("invalid project id %d in organization %s", p.ID, org.Slug)
			}
		}
	}

	// Validate alert configuration if email alerts are enabled
	if config.Alerts.Email.Enabled {
		if config.Alerts.Email.SMTPServer == "" {
			return fmt.Errorf("SMTP server is required when email alerts are enabled")
		}
		if config.Alerts.Email.SMTPPort <= 0 || config.Alerts.Email.SMTPPort > 65535 {
			return fmt.Errorf("invalid SMTP port: %d", config.Alerts.Email.SMTPPort)
		}
		if config.Alerts.Email.FromAddress == "" {
			return fmt.Errorf("from address is required when email alerts are enabled")
		}
		if len(config.Alerts.Email.ToAddresses) == 0 {
			return fmt.Errorf("at least one recipient address is required when email alerts are enabled")
		}
	}
	for _, rule := range config.Alerts.Rules {
		if rule.Name == "" {
			return fmt.Errorf("alert rule name is required")
		}
		if rule.Organization == "" {
			return fmt.Errorf("alert rule %s: organization is required", rule.Name)
		}
		if rule.Window != "" {
			if _, err := ParseDuration(rule.Window); err != nil {
				return fmt.Errorf("invalid window for rule %s: %w", rule.Name, err)
			}
		}
	}

	return nil
}

// ParseDuration parses a duration string (e.g., "30d", "2h")
func ParseDuration(s string) (time.Duration, error) {
	// Custom parsing for days
	if len(s) > 0 && s[len(s)-1] == 'd' {
		var days int
		_, err := fmt.Sscanf(s, "%dd", &days)
		if err != nil {
			return 0, err
		}
		return time.Hour * 24 * time.Duration(days), nil
	}

	// Use Go's time.ParseDuration for standard duration formats
	return time.ParseDuration(s)
}
