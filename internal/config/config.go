// Package config содержит логику чтения конфигурации сервиса магазина чая.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	AdminKey    string `env:"ADMIN_KEY"`

	PaymentAPIURL          string `env:"PAYMENT_API_URL"`
	PaymentTerminalKey     string `env:"PAYMENT_TERMINAL_KEY"`
	PaymentPassword        string `env:"PAYMENT_PASSWORD"`
	PaymentNotificationURL string `env:"PAYMENT_NOTIFICATION_URL"`
	PaymentSuccessURL      string `env:"PAYMENT_SUCCESS_URL"`
	PaymentFailURL         string `env:"PAYMENT_FAIL_URL"`

	SMSAPIURL string `env:"SMS_API_URL"`
	SMSAPIKey string `env:"SMS_API_KEY"`
	SMSSender string `env:"SMS_SENDER"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`

	// Минимальная сумма заказа в рублях.
	MinOrderAmount int64 `env:"MIN_ORDER_AMOUNT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAPIURL := cfg.PaymentAPIURL
	envMinOrderAmount := cfg.MinOrderAmount

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentAPIURL, "p", "https://securepay.tinkoff.ru/v2", "payment gateway base URL")
	flag.Int64Var(&cfg.MinOrderAmount, "m", 100, "minimum order amount in rubles")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAPIURL != "" {
		cfg.PaymentAPIURL = envPaymentAPIURL
	}
	if envMinOrderAmount != 0 {
		cfg.MinOrderAmount = envMinOrderAmount
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "teashop-secret"
	}

	if cfg.DatabaseURI == "" {
		return nil, errors.New("database URI is required")
	}

	return cfg, nil
}

// PaymentsEnabled сообщает, настроена ли интеграция с платёжным шлюзом.
func (c *Config) PaymentsEnabled() bool {
	return c.PaymentTerminalKey != "" && c.PaymentPassword != ""
}
