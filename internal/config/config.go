// Package config содержит логику чтения конфигурации сервиса биллинга.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/adsengine/billing-system/internal/model"
)

// Config содержит параметры конфигурации сервиса биллинга.
// Структура строится один раз при старте процесса и передаётся в компоненты.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	FrontendURL string `env:"FRONTEND_URL"`

	JWTSecret     string `env:"JWT_SECRET"`
	WebhookSecret string `env:"LEMON_WEBHOOK_SECRET"`
	// InsecureWebhooks разрешает принимать вебхуки без подписи при пустом
	// LEMON_WEBHOOK_SECRET. Допустимо только в окружениях разработки.
	InsecureWebhooks bool `env:"INSECURE_WEBHOOKS"`

	// Идентификаторы продуктов платёжного провайдера. Назначаются в панели
	// провайдера и различаются между окружениями.
	ProductStarter string `env:"LEMON_PRODUCT_STARTER"`
	ProductPro     string `env:"LEMON_PRODUCT_PRO"`
	ProductAgency  string `env:"LEMON_PRODUCT_AGENCY"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.JWTSecret, "s", "", "token signing secret")
	flag.BoolVar(&cfg.InsecureWebhooks, "insecure-webhooks", cfg.InsecureWebhooks, "accept unsigned webhooks (dev only)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.WebhookSecret == "" && !cfg.InsecureWebhooks {
		return nil, fmt.Errorf("LEMON_WEBHOOK_SECRET is required unless insecure webhooks are enabled")
	}

	return cfg, nil
}

// ProductPlans возвращает таблицу соответствия идентификаторов продуктов
// провайдера внутренним тарифам. Пустые идентификаторы не попадают в таблицу.
func (c *Config) ProductPlans() map[string]model.Plan {
	plans := make(map[string]model.Plan, 3)
	if c.ProductStarter != "" {
		plans[c.ProductStarter] = model.PlanStarter
	}
	if c.ProductPro != "" {
		plans[c.ProductPro] = model.PlanPro
	}
	if c.ProductAgency != "" {
		plans[c.ProductAgency] = model.PlanAgency
	}
	return plans
}
