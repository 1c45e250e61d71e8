// Package config loads and validates service configuration from a YAML file
// plus the environment. The pipeline: read file, expand {{.ENV_VAR}}
// templates, unmarshal, merge over built-in defaults, validate.
package config

import (
	"fmt"
	"net/url"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "250ms" or "4h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration tree shared by all three services. Each
// binary validates only the sections it uses.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Events   EventsConfig   `yaml:"events"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Worker   WorkerConfig   `yaml:"worker"`
	Signal   SignalConfig   `yaml:"signal"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DatabaseConfig locates PostgreSQL. URL wins over the individual fields
// when set (useful for CI-provided databases).
type DatabaseConfig struct {
	URL         string `yaml:"url"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"ssl_mode"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	AutoMigrate *bool  `yaml:"auto_migrate"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// ShouldMigrate reports whether the service runs embedded migrations at
// startup. Defaults to true when unset.
func (d DatabaseConfig) ShouldMigrate() bool {
	return d.AutoMigrate == nil || *d.AutoMigrate
}

// EventsConfig tunes the LISTEN/NOTIFY fabric.
type EventsConfig struct {
	QueueSize         int      `yaml:"queue_size"`          // per-channel dispatch queue
	ReconnectMinDelay Duration `yaml:"reconnect_min_delay"` // backoff floor
	ReconnectMaxDelay Duration `yaml:"reconnect_max_delay"` // backoff cap
}

// WSConfig tunes the client-facing WebSocket endpoint.
type WSConfig struct {
	PingInterval  Duration `yaml:"ping_interval"`
	PongTimeout   Duration `yaml:"pong_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	SendBuffer    int      `yaml:"send_buffer"`    // per-client outbound queue
	DropThreshold int      `yaml:"drop_threshold"` // consecutive drops before disconnect
}

// GatewayConfig configures the client-facing API service.
type GatewayConfig struct {
	HTTPPort          int      `yaml:"http_port"`
	AllowedOrigins    []string `yaml:"allowed_origins"` // WS origin patterns; empty allows same-origin only
	TaskTimeout       Duration `yaml:"task_timeout"`
	TaskSweepInterval Duration `yaml:"task_sweep_interval"`
	WS                WSConfig `yaml:"ws"`
}

// ExchangeConfig configures the upstream exchange connection.
type ExchangeConfig struct {
	Name           string   `yaml:"name"`
	RESTURL        string   `yaml:"rest_url"`
	FuturesRESTURL string   `yaml:"futures_rest_url"`
	WSURL          string   `yaml:"ws_url"`
	FuturesWSURL   string   `yaml:"futures_ws_url"`
	APIKey         string   `yaml:"api_key"`
	KeyType        string   `yaml:"key_type"` // ed25519 or rsa
	PrivateKeyPath string   `yaml:"private_key_path"`
	Timeout        Duration `yaml:"timeout"`
	MaxRetries     int      `yaml:"max_retries"`
	RecvWindowMS   int64    `yaml:"recv_window_ms"`
}

// Signed reports whether credentials for signed endpoints are configured.
func (e ExchangeConfig) Signed() bool {
	return e.APIKey != "" && e.PrivateKeyPath != ""
}

// RetentionConfig bounds table growth. Zero TTL disables that purge.
type RetentionConfig struct {
	TaskTTL   Duration `yaml:"task_ttl"`
	SignalTTL Duration `yaml:"signal_ttl"`
	Interval  Duration `yaml:"interval"`
}

// WorkerConfig configures the exchange worker service.
type WorkerConfig struct {
	HTTPPort            int             `yaml:"http_port"`
	BatchWindow         Duration        `yaml:"batch_window"` // stream (un)subscribe coalescing window
	TaskTimeout         Duration        `yaml:"task_timeout"` // per-task execution budget
	QuoteConcurrency    int             `yaml:"quote_concurrency"`
	ExchangeInfoRefresh Duration        `yaml:"exchange_info_refresh"`
	Retention           RetentionConfig `yaml:"retention"`
}

// SignalConfig configures the signal engine service.
type SignalConfig struct {
	HTTPPort        int      `yaml:"http_port"`
	RequiredKlines  int      `yaml:"required_klines"` // admission threshold
	CacheCapacity   int      `yaml:"cache_capacity"`  // bars kept per series
	FillBatchLimit  int      `yaml:"fill_batch_limit"`
	FillWait        Duration `yaml:"fill_wait"`        // wait per fill task
	FillRetryDelay  Duration `yaml:"fill_retry_delay"` // pause between fill rounds
	FillMaxAttempts int      `yaml:"fill_max_attempts"` // 0 = keep trying
}
