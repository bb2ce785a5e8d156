package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"4400"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Transactional mail settings
	Mail MailConfig

	// WebSocket fanout settings
	Fanout FanoutConfig

	// Per-queue worker tuning
	Queues QueuesConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // long-lived websocket connections
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"lorebook"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"lorebook"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// MailConfig holds outbound mail transport settings
type MailConfig struct {
	// Enabled determines if mail sending is enabled
	Enabled bool `env:"MAIL_ENABLED" envDefault:"false"`
	// MailgunDomain is the Mailgun sending domain
	MailgunDomain string `env:"MAILGUN_DOMAIN"`
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string `env:"MAILGUN_API_KEY"`
	// FromEmail is the default from address when a job omits one
	FromEmail string `env:"MAIL_FROM_ADDRESS" envDefault:"hello@lorebook.app"`
	// FromName is the display name on outbound mail
	FromName string `env:"MAIL_FROM_NAME" envDefault:"Lorebook"`
	// SendTimeout bounds a single transport call
	SendTimeout time.Duration `env:"MAIL_SEND_TIMEOUT" envDefault:"30s"`
}

// IsConfigured returns true if Mailgun credentials are present
func (m *MailConfig) IsConfigured() bool {
	return m.MailgunDomain != "" && m.MailgunAPIKey != ""
}

// FanoutConfig holds WebSocket bridge settings
type FanoutConfig struct {
	// Path is the WebSocket endpoint path
	Path string `env:"FANOUT_PATH" envDefault:"/events"`
	// TLSCertFile and TLSKeyFile enable the TLS listener when both are set
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`
	// WriteTimeout bounds a single broadcast write to one connection
	WriteTimeout time.Duration `env:"FANOUT_WRITE_TIMEOUT" envDefault:"10s"`
	// MaxMessageSize limits inbound client frames in bytes
	MaxMessageSize int64 `env:"FANOUT_MAX_MESSAGE_SIZE" envDefault:"65536"`
	// PongTimeout is how long to wait for a pong before dropping a connection
	PongTimeout time.Duration `env:"FANOUT_PONG_TIMEOUT" envDefault:"60s"`
}

// TLSEnabled returns true when both cert and key paths are configured
func (f *FanoutConfig) TLSEnabled() bool {
	return f.TLSCertFile != "" && f.TLSKeyFile != ""
}

// QueueTuning holds the retry, concurrency and polling knobs of one queue.
// Mail, counter, activity and socket pipelines are tuned independently so a
// backed-up queue never affects another's policy.
type QueueTuning struct {
	MaxAttempts       int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"10"`
	Concurrency       int           `env:"CONCURRENCY" envDefault:"4"`
	HandlerTimeout    time.Duration `env:"HANDLER_TIMEOUT" envDefault:"30s"`
	BaseRetryDelay    time.Duration `env:"BASE_RETRY_DELAY" envDefault:"5s"`
	MaxRetryDelay     time.Duration `env:"MAX_RETRY_DELAY" envDefault:"10m"`
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"5m"`
}

// QueuesConfig holds per-queue tuning blocks
type QueuesConfig struct {
	Mail     QueueTuning `envPrefix:"QUEUE_MAIL_"`
	Counter  QueueTuning `envPrefix:"QUEUE_COUNTER_"`
	Activity QueueTuning `envPrefix:"QUEUE_ACTIVITY_"`
	Socket   QueueTuning `envPrefix:"QUEUE_SOCKET_"`
}

// NewConfig parses configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
