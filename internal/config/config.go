// Package config loads service settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys.
const (
	EnvConfigFile = "CONFIG_FILE"

	EnvPort = "PORT"

	EnvDBHost     = "DB_HOST"
	EnvDBPort     = "DB_PORT"
	EnvDBUser     = "DB_USER"
	EnvDBPassword = "DB_PASSWORD"
	EnvDBName     = "DB_NAME"
	EnvDBSSLMode  = "DB_SSLMODE"
	EnvDBMaxConns = "DB_MAX_CONNS"

	EnvKafkaBrokers      = "KAFKA_BROKERS"
	EnvNotificationTopic = "NOTIFICATION_TOPIC"
	EnvPaymentTopic      = "PAYMENT_TOPIC"
	EnvPaymentGroupID    = "PAYMENT_GROUP_ID"
	EnvPaymentDLQTopic   = "PAYMENT_DLQ_TOPIC"

	EnvAllocationTimeout   = "ALLOCATION_TIMEOUT"
	EnvAllocationMaxPasses = "ALLOCATION_MAX_PASSES"
	EnvAllocationLease     = "ALLOCATION_LEASE"
	EnvSchedulerInterval   = "ALLOCATION_SCHEDULER_INTERVAL"

	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"
	EnvLogOutput = "LOG_OUTPUT"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Kafka holds broker settings. An empty broker list disables messaging.
type Kafka struct {
	Brokers           []string
	NotificationTopic string
	PaymentTopic      string
	PaymentGroupID    string
	PaymentDLQTopic   string // empty disables dead-lettering
}

// Enabled reports whether any broker is configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Allocation tunes the lottery engine.
type Allocation struct {
	Timeout           time.Duration
	MaxPasses         int
	Lease             time.Duration
	SchedulerInterval time.Duration // zero disables the scheduler
}

// Log mirrors logger.Config so that cmd can build the logger.
type Log struct {
	Level  string
	Format string
	Output string
}

// Config is the full service configuration.
type Config struct {
	Port       string
	Database   Database
	Kafka      Kafka
	Allocation Allocation
	Log        Log
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvPort, "8080")

	v.SetDefault(EnvDBHost, "localhost")
	v.SetDefault(EnvDBPort, "5432")
	v.SetDefault(EnvDBUser, "postgres")
	v.SetDefault(EnvDBPassword, "postgres")
	v.SetDefault(EnvDBName, "sessionlottery")
	v.SetDefault(EnvDBSSLMode, "disable")
	v.SetDefault(EnvDBMaxConns, 20)

	v.SetDefault(EnvKafkaBrokers, "")
	v.SetDefault(EnvNotificationTopic, "lottery.notifications")
	v.SetDefault(EnvPaymentTopic, "payments.confirmed")
	v.SetDefault(EnvPaymentGroupID, "session-lottery")
	v.SetDefault(EnvPaymentDLQTopic, "payments.confirmed.dlq")

	v.SetDefault(EnvAllocationTimeout, "2m")
	v.SetDefault(EnvAllocationMaxPasses, 5)
	v.SetDefault(EnvAllocationLease, "5m")
	v.SetDefault(EnvSchedulerInterval, "0s")

	v.SetDefault(EnvLogLevel, "info")
	v.SetDefault(EnvLogFormat, "json")
	v.SetDefault(EnvLogOutput, "stdout")
}

// Load reads .env (if present), then CONFIG_FILE (if set), then the process
// environment, which takes precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString(EnvConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port: v.GetString(EnvPort),
		Database: Database{
			Host:     v.GetString(EnvDBHost),
			Port:     v.GetString(EnvDBPort),
			User:     v.GetString(EnvDBUser),
			Password: v.GetString(EnvDBPassword),
			DBName:   v.GetString(EnvDBName),
			SSLMode:  v.GetString(EnvDBSSLMode),
			MaxConns: v.GetInt32(EnvDBMaxConns),
		},
		Kafka: Kafka{
			Brokers:           splitList(v.GetString(EnvKafkaBrokers)),
			NotificationTopic: v.GetString(EnvNotificationTopic),
			PaymentTopic:      v.GetString(EnvPaymentTopic),
			PaymentGroupID:    v.GetString(EnvPaymentGroupID),
			PaymentDLQTopic:   v.GetString(EnvPaymentDLQTopic),
		},
		Allocation: Allocation{
			Timeout:           v.GetDuration(EnvAllocationTimeout),
			MaxPasses:         v.GetInt(EnvAllocationMaxPasses),
			Lease:             v.GetDuration(EnvAllocationLease),
			SchedulerInterval: v.GetDuration(EnvSchedulerInterval),
		},
		Log: Log{
			Level:  v.GetString(EnvLogLevel),
			Format: v.GetString(EnvLogFormat),
			Output: v.GetString(EnvLogOutput),
		},
	}

	if cfg.Database.MaxConns <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvDBMaxConns)
	}
	if cfg.Allocation.MaxPasses < 1 {
		return nil, fmt.Errorf("%s must be at least 1", EnvAllocationMaxPasses)
	}
	if cfg.Allocation.Timeout <= 0 {
		return nil, fmt.Errorf("%s must be positive", EnvAllocationTimeout)
	}
	if cfg.Allocation.Lease < cfg.Allocation.Timeout {
		return nil, fmt.Errorf("%s must not be shorter than %s", EnvAllocationLease, EnvAllocationTimeout)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
