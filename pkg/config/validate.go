package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the sections every service depends on. Exchange
// credentials are checked separately by ValidateExchange since only the
// worker needs them.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format: unknown format %q", c.Log.Format))
	}

	if c.Database.URL == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database.host: required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port: invalid port %d", c.Database.Port))
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name: required")
		}
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, "database.max_conns: must be at least 1")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, "database.min_conns: must not exceed database.max_conns")
	}

	if c.Events.QueueSize < 1 {
		errs = append(errs, "events.queue_size: must be at least 1")
	}
	if c.Events.ReconnectMinDelay <= 0 || c.Events.ReconnectMaxDelay < c.Events.ReconnectMinDelay {
		errs = append(errs, "events: reconnect delays must satisfy 0 < min <= max")
	}

	if c.Gateway.TaskTimeout <= 0 {
		errs = append(errs, "gateway.task_timeout: must be positive")
	}
	if c.Gateway.WS.SendBuffer < 1 {
		errs = append(errs, "gateway.ws.send_buffer: must be at least 1")
	}

	if c.Worker.BatchWindow <= 0 {
		errs = append(errs, "worker.batch_window: must be positive")
	}
	if c.Worker.QuoteConcurrency < 1 {
		errs = append(errs, "worker.quote_concurrency: must be at least 1")
	}

	if c.Signal.RequiredKlines < 1 {
		errs = append(errs, "signal.required_klines: must be at least 1")
	}
	if c.Signal.CacheCapacity < c.Signal.RequiredKlines {
		errs = append(errs, "signal.cache_capacity: must be at least signal.required_klines")
	}
	if c.Signal.FillBatchLimit < 1 || c.Signal.FillBatchLimit > 1000 {
		errs = append(errs, "signal.fill_batch_limit: must be in 1..1000")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateExchange checks the upstream exchange section. Signed-endpoint
// credentials are optional: without them account tasks fail at execution
// time with a clear error, market data still flows.
func (c *Config) ValidateExchange() error {
	var errs []string

	if c.Exchange.Name == "" {
		errs = append(errs, "exchange.name: required")
	}
	if c.Exchange.RESTURL == "" {
		errs = append(errs, "exchange.rest_url: required")
	}
	if c.Exchange.WSURL == "" {
		errs = append(errs, "exchange.ws_url: required")
	}
	if c.Exchange.MaxRetries < 0 {
		errs = append(errs, "exchange.max_retries: must not be negative")
	}

	if c.Exchange.APIKey != "" || c.Exchange.PrivateKeyPath != "" {
		switch c.Exchange.KeyType {
		case "ed25519", "rsa":
		default:
			errs = append(errs, fmt.Sprintf("exchange.key_type: unknown type %q (want ed25519 or rsa)", c.Exchange.KeyType))
		}
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange.api_key: required when private_key_path is set")
		}
		if c.Exchange.PrivateKeyPath == "" {
			errs = append(errs, "exchange.private_key_path: required when api_key is set")
		}
	} else {
		slog.Warn("Exchange credentials not configured; signed endpoints (account tasks) will fail")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid exchange configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
