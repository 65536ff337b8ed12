// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	AMQP          AMQPConfig         `mapstructure:"amqp"`
	Auth          AuthConfig         `mapstructure:"auth"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Journal       JournalConfig      `mapstructure:"journal"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Address          string `mapstructure:"address"`
	Password         string `mapstructure:"password"`
	DB               int    `mapstructure:"db"`
	PoolSize         int    `mapstructure:"pool_size"`
	MinIdleConns     int    `mapstructure:"min_idle_conns"`
	OperationTimeout int    `mapstructure:"operation_timeout"` // milliseconds
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// AMQPConfig holds the settings used to connect to the event exchange.
type AMQPConfig struct {
	URI           string `mapstructure:"uri"`
	Exchange      string `mapstructure:"exchange"`
	ExchangeType  string `mapstructure:"exchange_type"`
	Prefetch      int    `mapstructure:"prefetch"`
	ConsumerTag   string `mapstructure:"consumer_tag"`
	SubmitTimeout int    `mapstructure:"submit_timeout"` // milliseconds
}

// AuthConfig holds the caller authentication settings.
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	ServiceToken string `mapstructure:"service_token"`
}

// NotificationConfig holds the notification pipeline settings.
type NotificationConfig struct {
	Dispatch        DispatchConfig `mapstructure:"dispatch"`
	Cleanup         CleanupConfig  `mapstructure:"cleanup"`
	UnreadScanLimit int            `mapstructure:"unread_scan_limit"`
	DefaultPageSize int            `mapstructure:"default_page_size"`
	MaxPageSize     int            `mapstructure:"max_page_size"`
}

type DispatchConfig struct {
	Workers     int `mapstructure:"workers"`
	QueueSize   int `mapstructure:"queue_size"`
	TaskTimeout int `mapstructure:"task_timeout"` // milliseconds
}

type CleanupConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"` // milliseconds
	Days     int  `mapstructure:"days"`
}

// JournalConfig toggles the Postgres delivery journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
