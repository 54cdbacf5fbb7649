// Package config loads and validates shotbatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultUserAgent matches a current desktop Chrome build.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultBrowserArgs are passed to every launched browser.
var DefaultBrowserArgs = []string{
	"disable-dev-shm-usage",
	"disable-setuid-sandbox",
	"disable-web-security",
	"disable-blink-features=AutomationControlled",
	"disable-features=IsolateOrigins,site-per-process",
}

// Config captures every knob of a batch run.
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Input   InputConfig   `mapstructure:"input"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// CaptureConfig drives the headless browser backend.
type CaptureConfig struct {
	Workers         int      `mapstructure:"workers"`
	Headless        bool     `mapstructure:"headless"`
	ViewportWidth   int      `mapstructure:"viewport_width"`
	ViewportHeight  int      `mapstructure:"viewport_height"`
	TimeoutMs       int      `mapstructure:"timeout_ms"`
	Proxy           string   `mapstructure:"proxy"`
	UserAgent       string   `mapstructure:"user_agent"`
	SettleDelayMs   int      `mapstructure:"settle_delay_ms"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	BrowserArgs     []string `mapstructure:"browser_args"`
	ExecPath        string   `mapstructure:"exec_path"`
	DomainQPS       float64  `mapstructure:"domain_qps"`
}

// RetryConfig sets the retry budget and cooldown between passes.
type RetryConfig struct {
	Attempts        int  `mapstructure:"attempts"`
	CooldownSeconds int  `mapstructure:"cooldown_seconds"`
	// SinglePass stops after one coordinated retry pass, so a job that fails
	// it is final even with budget left. The default keeps retrying after
	// each cooldown until a job has used all Attempts, which gives an
	// always-failing URL exactly Attempts extra tries.
	SinglePass      bool `mapstructure:"single_pass"`
}

// PoolConfig tunes worker drain and collector staleness detection.
type PoolConfig struct {
	DrainTimeoutMs      int `mapstructure:"drain_timeout_ms"`
	StaleTimeoutSeconds int `mapstructure:"stale_timeout_seconds"`
}

// InputConfig names the URL list.
type InputConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig names the report destination: a local path or gs://bucket/object.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ServerConfig controls the optional ops HTTP server. Empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig sets where metrics are flushed at exit.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// DBConfig controls attempt persistence. Empty DSN disables it.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds run-summary notification settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoadDotEnv loads environment variables from path when the file exists.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOTBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.workers", 5)
	v.SetDefault("capture.headless", true)
	v.SetDefault("capture.viewport_width", 1920)
	v.SetDefault("capture.viewport_height", 1080)
	v.SetDefault("capture.timeout_ms", 30000)
	v.SetDefault("capture.proxy", "")
	v.SetDefault("capture.user_agent", DefaultUserAgent)
	v.SetDefault("capture.settle_delay_ms", 1000)
	v.SetDefault("capture.ignore_tls_errors", true)
	v.SetDefault("capture.browser_args", DefaultBrowserArgs)
	v.SetDefault("capture.exec_path", "")
	v.SetDefault("capture.domain_qps", 0.0)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.cooldown_seconds", 5)
	v.SetDefault("retry.single_pass", false)
	v.SetDefault("pool.drain_timeout_ms", 1000)
	v.SetDefault("pool.stale_timeout_seconds", 30)
	v.SetDefault("input.path", "urls.txt")
	v.SetDefault("output.path", "result.html")
	v.SetDefault("logging.development", true)
	v.SetDefault("server.addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "capture_attempts")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Capture.Workers <= 0 {
		return fmt.Errorf("capture.workers must be > 0")
	}
	if c.Capture.ViewportWidth <= 0 || c.Capture.ViewportHeight <= 0 {
		return fmt.Errorf("capture.viewport_width and capture.viewport_height must be > 0")
	}
	if c.Capture.TimeoutMs <= 0 {
		return fmt.Errorf("capture.timeout_ms must be > 0")
	}
	if c.Capture.SettleDelayMs < 0 {
		return fmt.Errorf("capture.settle_delay_ms must be >= 0")
	}
	if c.Capture.DomainQPS < 0 {
		return fmt.Errorf("capture.domain_qps must be >= 0")
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry.attempts must be >= 0")
	}
	if c.Retry.CooldownSeconds < 0 {
		return fmt.Errorf("retry.cooldown_seconds must be >= 0")
	}
	if c.Pool.DrainTimeoutMs <= 0 {
		return fmt.Errorf("pool.drain_timeout_ms must be > 0")
	}
	if c.Pool.StaleTimeoutSeconds <= 0 {
		return fmt.Errorf("pool.stale_timeout_seconds must be > 0")
	}
	if strings.TrimSpace(c.Output.Path) == "" {
		return fmt.Errorf("output.path must be set")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// CaptureTimeout is the budget for a single navigation and render.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutMs) * time.Millisecond
}

// SettleDelay is the pause between load and screenshot.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Capture.SettleDelayMs) * time.Millisecond
}

// RetryCooldown is the global pause before each retry pass.
func (c Config) RetryCooldown() time.Duration {
	return time.Duration(c.Retry.CooldownSeconds) * time.Second
}

// DrainTimeout is how long an idle worker waits before exiting.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.Pool.DrainTimeoutMs) * time.Millisecond
}

// StaleTimeout is how long the collector waits for an outcome before checking
// that workers are still alive.
func (c Config) StaleTimeout() time.Duration {
	return time.Duration(c.Pool.StaleTimeoutSeconds) * time.Second
}
