// Package config loads pointsync configuration from config.yaml, .env and
// POINTSYNC_* environment variables.
package config

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pointsync/internal/batch"
	"github.com/sells-group/pointsync/internal/reconcile"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/internal/store"
	"github.com/sells-group/pointsync/pkg/geocode"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// Config is the top-level configuration.
type Config struct {
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	PointStore PointStoreConfig `yaml:"pointstore" mapstructure:"pointstore"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// GeocodeConfig configures the Nominatim client.
type GeocodeConfig struct {
	BaseURL               string               `yaml:"base_url" mapstructure:"base_url"`
	UserAgent             string               `yaml:"user_agent" mapstructure:"user_agent"`
	CountryCodes          string               `yaml:"country_codes" mapstructure:"country_codes"`
	Viewbox               []float64            `yaml:"viewbox" mapstructure:"viewbox"`
	Limit                 int                  `yaml:"limit" mapstructure:"limit"`
	RateLimit             RateLimitConfig      `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs           int                  `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries            int                  `yaml:"max_retries" mapstructure:"max_retries"`
	MaxRateLimited        int                  `yaml:"max_rate_limited" mapstructure:"max_rate_limited"`
	BackoffMs             int                  `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	MaxBackoffMs          int                  `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	CooldownMs            int                  `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	RetryAfterDefaultSecs int                  `yaml:"retry_after_default_secs" mapstructure:"retry_after_default_secs"`
	CacheTTLDays          int                  `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	Scoring               geocode.ScoreWeights `yaml:"scoring" mapstructure:"scoring"`
}

// RateLimitConfig is the provider quota: Requests per WindowMs, plus a
// safety margin added to every wait.
type RateLimitConfig struct {
	Requests int `yaml:"requests" mapstructure:"requests"`
	WindowMs int `yaml:"window_ms" mapstructure:"window_ms"`
	MarginMs int `yaml:"margin_ms" mapstructure:"margin_ms"`
}

// BatchConfig configures the batch orchestrator.
type BatchConfig struct {
	Size           int `yaml:"size" mapstructure:"size"`
	DelayMs        int `yaml:"delay_ms" mapstructure:"delay_ms"`
	NetworkPauseMs int `yaml:"network_pause_ms" mapstructure:"network_pause_ms"`
}

// ReconcileConfig configures existence checks and commits.
type ReconcileConfig struct {
	CheckChunkSize      int `yaml:"check_chunk_size" mapstructure:"check_chunk_size"`
	CheckRetryChunkSize int `yaml:"check_retry_chunk_size" mapstructure:"check_retry_chunk_size"`
	CheckMaxAttempts    int `yaml:"check_max_attempts" mapstructure:"check_max_attempts"`
	CheckMaxBackoffMs   int `yaml:"check_max_backoff_ms" mapstructure:"check_max_backoff_ms"`
	CheckConcurrency    int `yaml:"check_concurrency" mapstructure:"check_concurrency"`
	CommitChunkSize     int `yaml:"commit_chunk_size" mapstructure:"commit_chunk_size"`
	CommitTimeoutSecs   int `yaml:"commit_timeout_secs" mapstructure:"commit_timeout_secs"`
}

// PointStoreConfig configures the backing-store HTTP client.
type PointStoreConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the database behind the serve command.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the backing-store API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxBatch       int      `yaml:"max_batch" mapstructure:"max_batch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

func ms(n int) time.Duration   { return time.Duration(n) * time.Millisecond }
func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// ViewboxBounds returns the configured search box, or nil when the
// viewbox is disabled (an empty list).
func (g GeocodeConfig) ViewboxBounds() (*geom.Bounds, error) {
	switch len(g.Viewbox) {
	case 0:
		return nil, nil
	case 4:
		minX, minY, maxX, maxY := g.Viewbox[0], g.Viewbox[1], g.Viewbox[2], g.Viewbox[3]
		if minX >= maxX || minY >= maxY {
			return nil, eris.Errorf("config: viewbox min must be below max: %v", g.Viewbox)
		}
		return geom.NewBounds(geom.XY).Set(minX, minY, maxX, maxY), nil
	default:
		return nil, eris.Errorf("config: viewbox needs 4 values [min_lon, min_lat, max_lon, max_lat], got %d", len(g.Viewbox))
	}
}

// ClientOptions translates the section into geocode client options.
func (g GeocodeConfig) ClientOptions() ([]geocode.Option, error) {
	box, err := g.ViewboxBounds()
	if err != nil {
		return nil, err
	}
	return []geocode.Option{
		geocode.WithBaseURL(g.BaseURL),
		geocode.WithUserAgent(g.UserAgent),
		geocode.WithCountryCodes(g.CountryCodes),
		geocode.WithViewbox(box),
		geocode.WithLimit(g.Limit),
		geocode.WithRateLimiter(geocode.NewRateLimiter(g.RateLimit.Requests, ms(g.RateLimit.WindowMs), ms(g.RateLimit.MarginMs))),
		geocode.WithTimeout(secs(g.TimeoutSecs)),
		geocode.WithMaxRetries(g.MaxRetries),
		geocode.WithMaxRateLimited(g.MaxRateLimited),
		geocode.WithBackoff(resilience.RetryConfig{
			InitialBackoff: ms(g.BackoffMs),
			MaxBackoff:     ms(g.MaxBackoffMs),
			Multiplier:     2,
			JitterFraction: 0.25,
		}),
		geocode.WithNetworkCooldown(ms(g.CooldownMs)),
		geocode.WithRetryAfterDefault(secs(g.RetryAfterDefaultSecs)),
	}, nil
}

// Orchestrator returns the batch orchestrator settings.
func (b BatchConfig) Orchestrator() batch.Config {
	return batch.Config{
		BatchSize:    b.Size,
		Delay:        ms(b.DelayMs),
		NetworkPause: ms(b.NetworkPauseMs),
	}
}

// Engine returns the reconciliation engine settings. Unset values keep the
// engine defaults.
func (r ReconcileConfig) Engine() reconcile.Config {
	cfg := reconcile.DefaultConfig()
	if r.CheckChunkSize > 0 {
		cfg.CheckChunkSize = r.CheckChunkSize
	}
	if r.CheckRetryChunkSize > 0 {
		cfg.CheckRetryChunkSize = r.CheckRetryChunkSize
	}
	if r.CheckMaxAttempts > 0 {
		cfg.CheckMaxAttempts = r.CheckMaxAttempts
	}
	if r.CheckMaxBackoffMs > 0 {
		cfg.CheckMaxBackoff = ms(r.CheckMaxBackoffMs)
	}
	if r.CheckConcurrency > 0 {
		cfg.CheckConcurrency = r.CheckConcurrency
	}
	if r.CommitChunkSize > 0 {
		cfg.CommitChunkSize = r.CommitChunkSize
	}
	if r.CommitTimeoutSecs > 0 {
		cfg.CommitTimeout = secs(r.CommitTimeoutSecs)
	}
	return cfg
}

// ClientOptions translates the section into pointstore client options.
func (p PointStoreConfig) ClientOptions() []pointstore.Option {
	var opts []pointstore.Option
	if p.RPS > 0 {
		opts = append(opts, pointstore.WithRateLimit(p.RPS))
	}
	if p.Token != "" {
		opts = append(opts, pointstore.WithToken(p.Token))
	}
	if p.TimeoutSecs > 0 {
		opts = append(opts, pointstore.WithHTTPClient(&http.Client{Timeout: secs(p.TimeoutSecs)}))
	}
	return opts
}

// Load reads configuration from file and environment. Variables in a .env
// file in the working directory are loaded first and do not override the
// real environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POINTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("geocode.base_url", geocode.DefaultBaseURL)
	v.SetDefault("geocode.user_agent", geocode.DefaultUserAgent)
	v.SetDefault("geocode.country_codes", geocode.DefaultCountryCodes)
	v.SetDefault("geocode.viewbox", []float64{-74.0, -33.8, -34.7, 5.3})
	v.SetDefault("geocode.limit", geocode.DefaultLimit)
	v.SetDefault("geocode.rate_limit.requests", 1)
	v.SetDefault("geocode.rate_limit.window_ms", 1000)
	v.SetDefault("geocode.rate_limit.margin_ms", 100)
	v.SetDefault("geocode.timeout_secs", 15)
	v.SetDefault("geocode.max_retries", geocode.DefaultMaxRetries)
	v.SetDefault("geocode.max_rate_limited", geocode.DefaultMaxRateLimited)
	v.SetDefault("geocode.backoff_ms", 1000)
	v.SetDefault("geocode.max_backoff_ms", 30000)
	v.SetDefault("geocode.cooldown_ms", 3000)
	v.SetDefault("geocode.retry_after_default_secs", 5)
	v.SetDefault("geocode.cache_ttl_days", 30)
	w := geocode.DefaultScoreWeights()
	v.SetDefault("geocode.scoring.importance", w.Importance)
	v.SetDefault("geocode.scoring.type", w.Type)
	v.SetDefault("geocode.scoring.city_bonus", w.CityBonus)
	v.SetDefault("geocode.scoring.state_bonus", w.StateBonus)
	v.SetDefault("geocode.scoring.threshold", w.Threshold)
	v.SetDefault("geocode.scoring.low_importance", w.LowImportance)
	v.SetDefault("batch.size", batch.DefaultBatchSize)
	v.SetDefault("batch.delay_ms", 1000)
	v.SetDefault("batch.network_pause_ms", 5000)
	v.SetDefault("reconcile.check_chunk_size", 100)
	v.SetDefault("reconcile.check_retry_chunk_size", 20)
	v.SetDefault("reconcile.check_max_attempts", 3)
	v.SetDefault("reconcile.check_max_backoff_ms", 10000)
	v.SetDefault("reconcile.check_concurrency", 2)
	v.SetDefault("reconcile.commit_chunk_size", 20)
	v.SetDefault("reconcile.commit_timeout_secs", 300)
	v.SetDefault("pointstore.base_url", "http://localhost:8000/collection-points")
	v.SetDefault("pointstore.rps", 10)
	v.SetDefault("pointstore.timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pointsync.db")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_batch", 1000)
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Geocode.RateLimit.Requests <= 0 {
		return eris.New("config: geocode.rate_limit.requests must be positive")
	}
	if c.Geocode.RateLimit.WindowMs <= 0 {
		return eris.New("config: geocode.rate_limit.window_ms must be positive")
	}
	if strings.TrimSpace(c.Geocode.UserAgent) == "" {
		return eris.New("config: geocode.user_agent is required")
	}
	if _, err := c.Geocode.ViewboxBounds(); err != nil {
		return err
	}
	if c.Batch.Size <= 0 {
		return eris.New("config: batch.size must be positive")
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
