package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Queue    QueueConfig    `json:"queue"`
	Webhook  WebhookConfig  `json:"webhook"`
	Realtime RealtimeConfig `json:"realtime"`
	Tracing  TracingConfig  `json:"tracing"`
	Retry    RetryConfig    `json:"retry"`
	LogLevel string         `json:"log_level"`
	TimeZone string         `json:"timezone"`
}

// ServerConfig holds HTTP server configurations
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// QueueConfig holds delivery queue policy configurations
type QueueConfig struct {
	DriverIntervalSec     int  `json:"driverIntervalSec"`
	SelectBatchSize       int  `json:"selectBatchSize"`
	ChannelSendTimeoutSec int  `json:"channelSendTimeoutSec"`
	RetentionDays         int  `json:"retentionDays"`
	PurgeIntervalHours    int  `json:"purgeIntervalHours"`
	DriverEnabled         bool `json:"driverEnabled"`
}

// WebhookConfig holds outbound webhook configurations
type WebhookConfig struct {
	TimeoutSec    int    `json:"timeoutSec"`
	InboundSecret string `json:"inbound_secret"`
}

// RealtimeConfig holds websocket push configurations
type RealtimeConfig struct {
	Enabled bool `json:"enabled"`
}

// TracingConfig holds OpenTelemetry configurations
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

// RetryConfig holds database retry configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
