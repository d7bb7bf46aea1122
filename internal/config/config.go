package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/partmaster/internal/merge"
	"github.com/sells-group/partmaster/internal/partstore"
	"github.com/sells-group/partmaster/internal/source"
)

// Config holds the full application configuration.
type Config struct {
	Store      partstore.Config   `yaml:"store" mapstructure:"store"`
	Sources    []source.SourceDir `yaml:"sources" mapstructure:"sources"`
	Load       LoadConfig         `yaml:"load" mapstructure:"load"`
	Merge      merge.Options      `yaml:"merge" mapstructure:"merge"`
	Cleanse    CleanseConfig      `yaml:"cleanse" mapstructure:"cleanse"`
	Output     OutputConfig       `yaml:"output" mapstructure:"output"`
	Upload     UploadConfig       `yaml:"upload" mapstructure:"upload"`
	Refresh    RefreshConfig      `yaml:"refresh" mapstructure:"refresh"`
	Server     ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig          `yaml:"log" mapstructure:"log"`
}

// LoadConfig tunes how source files are read.
type LoadConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	Charset     string `yaml:"charset" mapstructure:"charset"`
}

// CleanseConfig points at optional cleansing rules.
type CleanseConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
	Enrich    bool   `yaml:"enrich" mapstructure:"enrich"`
}

// OutputConfig configures where artifacts are written.
type OutputConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	SnapshotName string `yaml:"snapshot_name" mapstructure:"snapshot_name"`
}

// UploadConfig configures the ad-hoc upload path.
type UploadConfig struct {
	RequiredColumns []string `yaml:"required_columns" mapstructure:"required_columns"`
	SaveToDB        bool     `yaml:"save_to_db" mapstructure:"save_to_db"`
	MaxBytes        int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
}

// RefreshConfig configures full refresh runs.
type RefreshConfig struct {
	Strict bool `yaml:"strict" mapstructure:"strict"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RefreshRPS     float64  `yaml:"refresh_rps" mapstructure:"refresh_rps"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures refresh alerting.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	DropRateThreshold float64 `yaml:"drop_rate_threshold" mapstructure:"drop_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PARTMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.table", partstore.DefaultTable)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.batch_size", 5000)
	v.SetDefault("store.retry.max_attempts", 4)
	v.SetDefault("store.retry.initial_backoff_ms", 50)
	v.SetDefault("store.retry.max_backoff_ms", 2000)
	v.SetDefault("sources", defaultSources("data"))
	v.SetDefault("load.concurrency", 4)
	v.SetDefault("load.charset", "windows-1252")
	v.SetDefault("merge.fold_case", false)
	v.SetDefault("merge.source_priority", []string{})
	v.SetDefault("cleanse.rules_path", "")
	v.SetDefault("cleanse.enrich", true)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.snapshot_name", "stage1_master_snapshot.xlsx")
	v.SetDefault("upload.required_columns", []string{"part_number", "description"})
	v.SetDefault("upload.save_to_db", true)
	v.SetDefault("upload.max_bytes", 32<<20)
	v.SetDefault("refresh.strict", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.refresh_rps", 0.2)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.drop_rate_threshold", 0.5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// The original deployment only ever set DATABASE_URL.
	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	return &cfg, nil
}

func defaultSources(base string) []map[string]any {
	dirs := source.DefaultSourceDirs(base)
	out := make([]map[string]any, len(dirs))
	for i, d := range dirs {
		out[i] = map[string]any{"system": d.System, "dir": d.Dir}
	}
	return out
}

// Validate checks the settings a command mode depends on. Modes are
// "refresh", "process", "serve", and "store" (commands that only touch the
// database).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "refresh", "process", "serve", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (or set DATABASE_URL)")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url must name the sqlite file")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}
	if c.Store.BatchSize < 1 {
		errs = append(errs, "store.batch_size must be >= 1")
	}

	if mode == "refresh" || mode == "serve" {
		if len(c.Sources) == 0 {
			errs = append(errs, "sources must list at least one system")
		}
		seen := map[string]bool{}
		for i, s := range c.Sources {
			if s.System == "" || s.Dir == "" {
				errs = append(errs, fmt.Sprintf("sources[%d] needs system and dir", i))
				continue
			}
			if seen[s.System] {
				errs = append(errs, fmt.Sprintf("sources: duplicate system %q", s.System))
			}
			seen[s.System] = true
		}
		if c.Output.Dir == "" || c.Output.SnapshotName == "" {
			errs = append(errs, "output.dir and output.snapshot_name are required")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RefreshRPS < 0 {
			errs = append(errs, "server.refresh_rps must be >= 0")
		}
		if c.Upload.MaxBytes <= 0 {
			errs = append(errs, "upload.max_bytes must be > 0")
		}
	}

	if t := c.Monitoring.DropRateThreshold; t < 0 || t > 1 {
		errs = append(errs, "monitoring.drop_rate_threshold must be between 0 and 1")
	}

	if c.Load.Concurrency < 1 || c.Load.Concurrency > 64 {
		errs = append(errs, "load.concurrency must be between 1 and 64")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
