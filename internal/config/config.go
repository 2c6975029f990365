package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	FeedKafka    = "kafka"
	FeedPostgres = "postgres"
	FeedLocal    = "local"
)

type Config struct {
	HTTP_PORT string `env:"HTTP_PORT" envDefault:"8080"`
	DB_STRING string `env:"DB_STRING,required,notEmpty"`

	CHANGE_FEED    string `env:"CHANGE_FEED" envDefault:"postgres"`
	KAFKA_BROKERS  string `env:"KAFKA_BROKERS"`
	KAFKA_TOPIC    string `env:"KAFKA_TOPIC" envDefault:"order-status-events"`
	KAFKA_GROUP_ID string `env:"KAFKA_GROUP_ID"`

	S3_BUCKET          string `env:"S3_BUCKET,required,notEmpty"`
	S3_ENDPOINT        string `env:"S3_ENDPOINT"`
	S3_PUBLIC_BASE_URL string `env:"S3_PUBLIC_BASE_URL"`
	S3_ACCESS_KEY      string `env:"S3_ACCESS_KEY"`
	S3_SECRET_KEY      string `env:"S3_SECRET_KEY"`
	AWS_REGION         string `env:"AWS_REGION" envDefault:"ap-south-1"`

	CART_DB_PATH        string        `env:"CART_DB_PATH" envDefault:"carts.db"`
	CART_IDLE_TTL       time.Duration `env:"CART_IDLE_TTL" envDefault:"30m"`
	SUBSCRIBER_BUFFER   int           `env:"SUBSCRIBER_BUFFER" envDefault:"64"`
	RESTORE_CACHE_LIMIT int           `env:"RESTORE_CACHE_LIMIT" envDefault:"1000"`

	LOG_LEVEL  string `env:"LOG_LEVEL" envDefault:"info"`
	LOG_FORMAT string `env:"LOG_FORMAT" envDefault:"dev"`
}

// LoadConfig reads an optional .env file and then the environment.
// Variables already set in the environment win over the file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.CHANGE_FEED {
	case FeedPostgres, FeedLocal:
	case FeedKafka:
		if c.KAFKA_BROKERS == "" {
			return fmt.Errorf("KAFKA_BROKERS is required when CHANGE_FEED=kafka")
		}
		if c.KAFKA_TOPIC == "" {
			return fmt.Errorf("KAFKA_TOPIC is required when CHANGE_FEED=kafka")
		}
	default:
		return fmt.Errorf("CHANGE_FEED must be one of kafka, postgres, local; got %q", c.CHANGE_FEED)
	}
	if c.SUBSCRIBER_BUFFER < 1 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be positive")
	}
	if c.CART_IDLE_TTL <= 0 {
		return fmt.Errorf("CART_IDLE_TTL must be positive")
	}
	if c.RESTORE_CACHE_LIMIT < 0 {
		return fmt.Errorf("RESTORE_CACHE_LIMIT must not be negative")
	}
	return nil
}
