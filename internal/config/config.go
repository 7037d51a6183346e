package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Extractor ExtractorConfig `yaml:"extractor" mapstructure:"extractor"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Intake    IntakeConfig    `yaml:"intake" mapstructure:"intake"`
	Webhook   WebhookConfig   `yaml:"webhook" mapstructure:"webhook"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExtractorConfig holds the extraction model settings. The sampling
// parameters are recorded on every run for reproducibility.
type ExtractorConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	TopP           float64 `yaml:"top_p" mapstructure:"top_p"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	PromptVersion  string  `yaml:"prompt_version" mapstructure:"prompt_version"`
	SchemaVersion  string  `yaml:"schema_version" mapstructure:"schema_version"`
	PromptPackPath string  `yaml:"prompt_pack_path" mapstructure:"prompt_pack_path"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
}

// NotionConfig holds the Notion token and the planning database IDs used for
// requirement trace links.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	EpicDB   string `yaml:"epic_db" mapstructure:"epic_db"`
	WbsDB    string `yaml:"wbs_db" mapstructure:"wbs_db"`
	SprintDB string `yaml:"sprint_db" mapstructure:"sprint_db"`
	TestDB   string `yaml:"test_db" mapstructure:"test_db"`
}

// IntakeConfig configures document admission.
type IntakeConfig struct {
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
}

// WebhookConfig configures run-completion notifications.
type WebhookConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("RFP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rfp-intake.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("extractor.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("extractor.temperature", 0.2)
	v.SetDefault("extractor.top_p", 0.9)
	v.SetDefault("extractor.max_tokens", 8192)
	v.SetDefault("extractor.requests_per_sec", 1)
	v.SetDefault("extractor.workers", 4)
	v.SetDefault("intake.fetch_timeout_secs", 60)
	v.SetDefault("intake.user_agent", "rfp-intake/1.0")

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

	return &cfg, nil
}

// Validate checks the fields a given mode requires. Modes: "serve" needs the
// full stack, "analyze" needs store plus extractor credentials, "intake" and
// "review" write through the store only, and "readonly" covers the query
// commands.
func (c *Config) Validate(mode string) error {
	var missing []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required")
		}
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			missing = append(missing, "store.driver must be sqlite or postgres")
		}
	}
	requireExtractor := func() {
		if c.Extractor.Key == "" {
			missing = append(missing, "extractor.key is required")
		}
		if c.Extractor.Temperature < 0 || c.Extractor.Temperature > 1 {
			missing = append(missing, "extractor.temperature must be between 0 and 1")
		}
		if c.Extractor.TopP < 0 || c.Extractor.TopP > 1 {
			missing = append(missing, "extractor.top_p must be between 0 and 1")
		}
		if c.Extractor.Workers < 1 || c.Extractor.Workers > 64 {
			missing = append(missing, "extractor.workers must be between 1 and 64")
		}
	}

	switch mode {
	case "serve":
		requireStore()
		requireExtractor()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "analyze":
		requireStore()
		requireExtractor()
	case "intake", "review", "readonly":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
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
