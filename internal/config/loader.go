package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (cl *ConfigLoader) LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.Redis.Host == "" {
		config.Redis.Host = "localhost"
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}
	if config.Universe.BatchSize == 0 {
		config.Universe.BatchSize = 50
	}
	if config.Worker.ConsumerGroup == "" {
		config.Worker.ConsumerGroup = "ALGO_GROUP"
	}
	if config.Worker.ReadCount == 0 {
		config.Worker.ReadCount = 10
	}
	if config.Postgres.DSN == "" {
		config.Postgres.DSN = os.Getenv("DATABASE_URL")
	}
	if config.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres dsn missing (config or DATABASE_URL)")
	}

	return &config, nil
}

func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
