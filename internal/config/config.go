package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig    `yaml:"store" mapstructure:"store"`
	Artifacts ArtifactConfig `yaml:"artifacts" mapstructure:"artifacts"`
	OCR       OCRConfig      `yaml:"ocr" mapstructure:"ocr"`
	Jina      JinaConfig     `yaml:"jina" mapstructure:"jina"`
	Fetch     FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Crawl     CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Sources   SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Breaker   BreakerConfig  `yaml:"breaker" mapstructure:"breaker"`
	Batch     BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig   `yaml:"server" mapstructure:"server"`
	Log       LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ArtifactConfig selects where downloaded documents are kept.
type ArtifactConfig struct {
	// Backend is "local", "minio" or "none".
	Backend string      `yaml:"backend" mapstructure:"backend"`
	Dir     string      `yaml:"dir" mapstructure:"dir"`
	Minio   MinioConfig `yaml:"minio" mapstructure:"minio"`
}

// MinioConfig holds S3-compatible object storage settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	Layout        bool   `yaml:"layout" mapstructure:"layout"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// JinaConfig holds Jina AI Reader settings used as the page-fetch fallback.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures the shared HTTP client.
type FetchConfig struct {
	UserAgent      string      `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int         `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond  float64     `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	AcceptLanguage string      `yaml:"accept_language" mapstructure:"accept_language"`
	Retry          RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures per-request retries inside one adapter call.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// BreakerConfig configures the per-source circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CrawlConfig configures a single crawl request.
type CrawlConfig struct {
	// TimeoutSecs bounds the whole fan-out. Each source also has its own budget.
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PrioritiesFile string `yaml:"priorities_file" mapstructure:"priorities_file"`
	DirectoryFile  string `yaml:"directory_file" mapstructure:"directory_file"`
}

// SourcesConfig configures each source adapter.
type SourcesConfig struct {
	Handelsregister      SourceConfig   `yaml:"handelsregister" mapstructure:"handelsregister"`
	Northdata            SourceConfig   `yaml:"northdata" mapstructure:"northdata"`
	Unternehmensregister SourceConfig   `yaml:"unternehmensregister" mapstructure:"unternehmensregister"`
	LinkedIn             LinkedInConfig `yaml:"linkedin" mapstructure:"linkedin"`
}

// SourceConfig is shared by every adapter.
type SourceConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LinkedInConfig adds the out-of-band session state file.
type LinkedInConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`
	SessionFile  string `yaml:"session_file" mapstructure:"session_file"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentCompanies int `yaml:"max_concurrent_companies" mapstructure:"max_concurrent_companies"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config.yaml and the environment.
// Environment variables use the CRAWLER_ prefix with "." replaced by "_".
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	// Secrets default to empty so AutomaticEnv can still populate them.
	for _, key := range []string{
		"jina.key",
		"ocr.mistral_api_key",
		"artifacts.minio.endpoint",
		"artifacts.minio.access_key",
		"artifacts.minio.secret_key",
		"artifacts.minio.region",
		"crawl.priorities_file",
	} {
		v.SetDefault(key, "")
	}

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/crawler.db")
	v.SetDefault("artifacts.backend", "local")
	v.SetDefault("artifacts.dir", "data/companies")
	v.SetDefault("artifacts.minio.bucket", "company-artifacts")
	v.SetDefault("artifacts.minio.use_ssl", true)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (X11; Linux x86_64) registry-crawler/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.rate_per_second", 1.0)
	v.SetDefault("fetch.accept_language", "de-DE,de;q=0.9,en;q=0.5")
	v.SetDefault("fetch.retry.max_attempts", 3)
	v.SetDefault("fetch.retry.initial_backoff_ms", 500)
	v.SetDefault("fetch.retry.max_backoff_ms", 10000)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 300)
	v.SetDefault("crawl.timeout_secs", 300)
	v.SetDefault("crawl.directory_file", "data/companies.json")
	v.SetDefault("sources.handelsregister.enabled", true)
	v.SetDefault("sources.handelsregister.base_url", "https://www.handelsregister.de")
	v.SetDefault("sources.handelsregister.timeout_secs", 180)
	v.SetDefault("sources.northdata.enabled", true)
	v.SetDefault("sources.northdata.base_url", "https://www.northdata.de")
	v.SetDefault("sources.northdata.timeout_secs", 120)
	v.SetDefault("sources.unternehmensregister.enabled", true)
	v.SetDefault("sources.unternehmensregister.base_url", "https://www.unternehmensregister.de")
	v.SetDefault("sources.unternehmensregister.timeout_secs", 180)
	v.SetDefault("sources.linkedin.enabled", true)
	v.SetDefault("sources.linkedin.base_url", "https://www.linkedin.com")
	v.SetDefault("sources.linkedin.timeout_secs", 120)
	v.SetDefault("sources.linkedin.session_file", "data/linkedin_session.json")
	v.SetDefault("batch.max_concurrent_companies", 3)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
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

// Validate checks the settings a command needs before it starts. mode is the
// command name: "serve", "crawl", "batch" or "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if mode != "migrate" {
		switch c.Artifacts.Backend {
		case "local":
			if c.Artifacts.Dir == "" {
				problems = append(problems, "artifacts.dir is required for the local backend")
			}
		case "minio":
			if c.Artifacts.Minio.Endpoint == "" || c.Artifacts.Minio.Bucket == "" {
				problems = append(problems, "artifacts.minio.endpoint and artifacts.minio.bucket are required")
			}
		case "none":
		default:
			problems = append(problems, "artifacts.backend must be local, minio or none")
		}
		if c.Crawl.TimeoutSecs <= 0 {
			problems = append(problems, "crawl.timeout_secs must be positive")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	case "batch":
		if c.Batch.MaxConcurrentCompanies <= 0 {
			problems = append(problems, "batch.max_concurrent_companies must be positive")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
