// Package config содержит логику чтения конфигурации сервиса shopcore.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса shopcore.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	PayPalVerifyURL  string `env:"PAYPAL_VERIFY_URL"`
	ReceiverEmail    string `env:"PAYPAL_RECEIVER_EMAIL"`
	AuthSecret       string `env:"AUTH_SECRET"`
	CronSecret       string `env:"CRON_SECRET"`
	CashbackPercent  int    `env:"CASHBACK_PERCENT" envDefault:"5"`
	ReferrerPercent  int    `env:"REFERRER_PERCENT" envDefault:"2"`
	ContestWinners   int    `env:"CONTEST_WINNERS" envDefault:"2"`
	ContestPrize     int64  `env:"CONTEST_PRIZE_CENTS" envDefault:"5000"`
	CheckinPoints    int64  `env:"CHECKIN_POINTS" envDefault:"10"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envVerifyURL := cfg.PayPalVerifyURL
	envReceiverEmail := cfg.ReceiverEmail

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PayPalVerifyURL, "p", "https://ipnpb.paypal.com/cgi-bin/webscr", "PayPal IPN verification URL")
	flag.StringVar(&cfg.ReceiverEmail, "r", "", "merchant PayPal email")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envVerifyURL != "" {
		cfg.PayPalVerifyURL = envVerifyURL
	}
	if envReceiverEmail != "" {
		cfg.ReceiverEmail = envReceiverEmail
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CashbackPercent < 0 || cfg.CashbackPercent > 100 {
		return nil, fmt.Errorf("cashback percent out of range: %d", cfg.CashbackPercent)
	}
	if cfg.ReferrerPercent < 0 || cfg.ReferrerPercent > 100 {
		return nil, fmt.Errorf("referrer percent out of range: %d", cfg.ReferrerPercent)
	}

	return cfg, nil
}
