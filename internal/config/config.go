package config

import "time"

// ServiceConfig is the root configuration for a notifier instance.
type ServiceConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Hub      HubConfig      `yaml:"hub"`
	API      APIConfig      `yaml:"api"`
	Database DBConfig       `yaml:"database"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Writer   WriterConfig   `yaml:"writer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this notifier.
type InstanceConfig struct {
	ID        string `yaml:"id"`
	SubjectID string `yaml:"subject_id"` // Tenant (school) whose feed this instance follows
}

// HubConfig holds push hub settings.
type HubConfig struct {
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BufferSize   int           `yaml:"buffer_size"`
}

// APIConfig holds notification REST API settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DBConfig holds the Postgres connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RealtimeConfig holds connection manager settings.
type RealtimeConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	FallbackInterval     time.Duration `yaml:"fallback_interval"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	OpenTimeout          time.Duration `yaml:"open_timeout"`
}

// WriterConfig holds notification writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
