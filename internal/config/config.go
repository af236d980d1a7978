package config

import (
	"time"
)

// Config represents the complete application configuration shared by the
// four process entrypoints.
type Config struct {
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Broker   BrokerConfig   `yaml:"broker"`
	Universe UniverseConfig `yaml:"universe"`
	Worker   WorkerConfig   `yaml:"worker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RedisConfig represents Redis connection configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// PostgresConfig represents the trade/credentials/settings database
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// BrokerConfig represents the Fyers v3 endpoints
type BrokerConfig struct {
	RestURL     string `yaml:"rest_url"`
	DataWSURL   string `yaml:"data_ws_url"`
	OrderWSURL  string `yaml:"order_ws_url"`
	HTTPTimeout string `yaml:"http_timeout"`
}

// UniverseConfig represents the strategy symbol universe and how it is
// subscribed on the data socket.
type UniverseConfig struct {
	Symbols    []string `yaml:"symbols"`
	BatchSize  int      `yaml:"batch_size"`
	BatchDelay string   `yaml:"batch_delay"`
}

// WorkerConfig represents algo worker consumer settings
type WorkerConfig struct {
	ConsumerGroup string `yaml:"consumer_group"`
	ReadCount     int    `yaml:"read_count"`
	ReadBlock     string `yaml:"read_block"`
}

// MetricsConfig represents the Prometheus exposition endpoints, one port
// per long-running process.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	DataEnginePort int  `yaml:"data_engine_port"`
	AlgoWorkerPort int  `yaml:"algo_worker_port"`
	OrderSockPort  int  `yaml:"order_socket_port"`
}

// HTTPTimeoutDuration returns the broker REST per-call timeout.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	return parseDurationOr(c.Broker.HTTPTimeout, 5*time.Second)
}

// BatchDelayDuration returns the gap between subscription batches.
func (c *Config) BatchDelayDuration() time.Duration {
	return parseDurationOr(c.Universe.BatchDelay, 500*time.Millisecond)
}

// ReadBlockDuration returns the stream blocking-read timeout.
func (c *Config) ReadBlockDuration() time.Duration {
	return parseDurationOr(c.Worker.ReadBlock, time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
