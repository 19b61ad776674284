// Package config provides YAML-based configuration loading for Farmane.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Farmane configuration, loaded from farmane.yaml.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Storage       StorageConfig       `yaml:"storage"`
	Geoprocessing GeoprocessingConfig `yaml:"geoprocessing"`
	Sandbox       SandboxConfig       `yaml:"sandbox"`
	PostGIS       PostGISConfig       `yaml:"postgis"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
}

// DatabaseConfig holds connection settings for the application store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql, postgres or sqlite
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port          int  `yaml:"port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// LLMConfig configures the chat completion provider.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	TitleModel  string  `yaml:"title_model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// OrchestratorConfig bounds the conversation loop and its coordination rows.
type OrchestratorConfig struct {
	MaxRounds   int           `yaml:"max_rounds"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	CancelTTL   time.Duration `yaml:"cancel_ttl"`
	LabelTitles bool          `yaml:"label_titles"`
}

// StorageConfig points at the object storage bucket holding layer files.
type StorageConfig struct {
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	GetURLTTL       time.Duration `yaml:"get_url_ttl"`
	PutURLTTL       time.Duration `yaml:"put_url_ttl"`
	ExportURLTTL    time.Duration `yaml:"export_url_ttl"`
	OGR2OGRPath     string        `yaml:"ogr2ogr_path"`
}

// GeoprocessingConfig configures the geoprocessing micro-service client.
type GeoprocessingConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
	CatalogPath  string        `yaml:"catalog_path"`
}

// SandboxConfig configures the dataset SQL sandbox.
type SandboxConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PostGISConfig bounds statements run against user databases.
type PostGISConfig struct {
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// AlertsConfig routes faulted-run alerts to chat platforms.
type AlertsConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a bot token plus destination channel.
type ChannelConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChannelConfig) Enabled() bool {
	return c.Token != "" && c.ChannelID != ""
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout or otlp
	Endpoint string `yaml:"endpoint"`
}

// SweeperConfig schedules the expired-row purge.
type SweeperConfig struct {
	Schedule string `yaml:"schedule"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FARMANE_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("SLACK_TOKEN"); v != "" && c.Alerts.Slack.Token == "" {
		c.Alerts.Slack.Token = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" && c.Alerts.Discord.Token == "" {
		c.Alerts.Discord.Token = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			if c.Database.Driver == "postgres" {
				c.Database.Port = 5432
			} else {
				c.Database.Port = 3306
			}
		}
	}
	if c.Database.Database == "" {
		c.Database.Database = "farmane"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4.1"
	}
	if c.LLM.TitleModel == "" {
		c.LLM.TitleModel = "gpt-4.1-nano"
	}
	if c.Orchestrator.MaxRounds == 0 {
		c.Orchestrator.MaxRounds = 25
	}
	if c.Orchestrator.LockTTL == 0 {
		c.Orchestrator.LockTTL = 30 * time.Second
	}
	if c.Orchestrator.CancelTTL == 0 {
		c.Orchestrator.CancelTTL = 5 * time.Minute
	}
	if c.Storage.GetURLTTL == 0 {
		c.Storage.GetURLTTL = time.Hour
	}
	if c.Storage.PutURLTTL == 0 {
		c.Storage.PutURLTTL = time.Hour
	}
	if c.Storage.ExportURLTTL == 0 {
		c.Storage.ExportURLTTL = 15 * time.Minute
	}
	if c.Storage.OGR2OGRPath == "" {
		c.Storage.OGR2OGRPath = "ogr2ogr"
	}
	if c.Geoprocessing.Timeout == 0 {
		c.Geoprocessing.Timeout = 30 * time.Second
	}
	if c.Geoprocessing.PollInterval == 0 {
		c.Geoprocessing.PollInterval = 2 * time.Second
	}
	if c.Geoprocessing.MaxWait == 0 {
		c.Geoprocessing.MaxWait = 5 * time.Minute
	}
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = 10 * time.Second
	}
	if c.PostGIS.StatementTimeout == 0 {
		c.PostGIS.StatementTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = "@every 1m"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql, postgres or sqlite", c.Database.Driver))
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		errs = append(errs, "database.dsn is required for sqlite")
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required (or set OPENAI_API_KEY)")
	}
	if c.Orchestrator.MaxRounds < 0 {
		errs = append(errs, "orchestrator.max_rounds must be positive")
	}
	if c.Orchestrator.LockTTL < 0 || c.Orchestrator.CancelTTL < 0 {
		errs = append(errs, "orchestrator TTLs must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			errs = append(errs, "tracing.endpoint is required for the otlp exporter")
		}
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter %q must be none, stdout or otlp", c.Tracing.Exporter))
	}
	if (c.Alerts.Slack.Token == "") != (c.Alerts.Slack.ChannelID == "") {
		errs = append(errs, "alerts.slack needs both token and channel_id")
	}
	if (c.Alerts.Discord.Token == "") != (c.Alerts.Discord.ChannelID == "") {
		errs = append(errs, "alerts.discord needs both token and channel_id")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
