// Package config содержит логику чтения конфигурации сервиса выплат.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса выплат.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	PaystackSecretKey  string `env:"PAYSTACK_SECRET_KEY"`
	PaystackBaseURL    string `env:"PAYSTACK_BASE_URL"`
	ServiceTokenSecret string `env:"SERVICE_TOKEN_SECRET"`
	DevMode            bool   `env:"DEV_MODE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSecretKey := cfg.PaystackSecretKey
	envBaseURL := cfg.PaystackBaseURL
	envTokenSecret := cfg.ServiceTokenSecret
	_, envDevModeSet := os.LookupEnv("DEV_MODE")
	envDevMode := cfg.DevMode

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaystackSecretKey, "k", "", "payment gateway secret key")
	flag.StringVar(&cfg.PaystackBaseURL, "g", "https://api.paystack.co", "payment gateway base URL")
	flag.StringVar(&cfg.ServiceTokenSecret, "s", "", "vendor API token secret")
	flag.BoolVar(&cfg.DevMode, "dev", false, "development mode: webhook signature is not enforced")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSecretKey != "" {
		cfg.PaystackSecretKey = envSecretKey
	}
	if envBaseURL != "" {
		cfg.PaystackBaseURL = envBaseURL
	}
	if envTokenSecret != "" {
		cfg.ServiceTokenSecret = envTokenSecret
	}
	if envDevModeSet {
		cfg.DevMode = envDevMode
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PaystackBaseURL == "" {
		cfg.PaystackBaseURL = "https://api.paystack.co"
	}

	return cfg, nil
}
