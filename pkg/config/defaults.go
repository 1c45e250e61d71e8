package config

import "time"

func boolPtr(b bool) *bool { return &b }

// Default returns the built-in configuration. File values are merged on top;
// anything left unset here must be provided by the file or environment.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "tickwire",
			Name:        "tickwire",
			SSLMode:     "disable",
			MaxConns:    16,
			MinConns:    4,
			AutoMigrate: boolPtr(true),
		},
		Events: EventsConfig{
			QueueSize:         1024,
			ReconnectMinDelay: Duration(time.Second),
			ReconnectMaxDelay: Duration(30 * time.Second),
		},
		Gateway: GatewayConfig{
			HTTPPort:          8080,
			TaskTimeout:       Duration(30 * time.Second),
			TaskSweepInterval: Duration(5 * time.Second),
			WS: WSConfig{
				PingInterval:  Duration(30 * time.Second),
				PongTimeout:   Duration(60 * time.Second),
				WriteTimeout:  Duration(10 * time.Second),
				SendBuffer:    64,
				DropThreshold: 8,
			},
		},
		Exchange: ExchangeConfig{
			Name:           "BINANCE",
			RESTURL:        "https://api.binance.com",
			FuturesRESTURL: "https://fapi.binance.com",
			WSURL:          "wss://stream.binance.com:9443",
			FuturesWSURL:   "wss://fstream.binance.com",
			KeyType:        "ed25519",
			Timeout:        Duration(10 * time.Second),
			MaxRetries:     3,
			RecvWindowMS:   5000,
		},
		Worker: WorkerConfig{
			HTTPPort:            8081,
			BatchWindow:         Duration(250 * time.Millisecond),
			TaskTimeout:         Duration(60 * time.Second),
			QuoteConcurrency:    8,
			ExchangeInfoRefresh: Duration(4 * time.Hour),
			Retention: RetentionConfig{
				TaskTTL:   Duration(24 * time.Hour),
				SignalTTL: Duration(30 * 24 * time.Hour),
				Interval:  Duration(time.Hour),
			},
		},
		Signal: SignalConfig{
			HTTPPort:       8082,
			RequiredKlines: 280,
			CacheCapacity:  1000,
			FillBatchLimit: 1000,
			FillWait:       Duration(5 * time.Second),
			FillRetryDelay: Duration(2 * time.Second),
		},
	}
}
