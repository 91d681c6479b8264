package app

import (
	"os"
	"strconv"
	"time"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	KafkaBrokers string
	PostgresDSN  string
	RedisAddr    string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	ReservationTTL            time.Duration
	ReservationExpireInterval time.Duration

	PriceCacheTTL time.Duration
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                  ":8080",
		MetricsAddr:               ":9090",
		OutboxPollInterval:        time.Second,
		OutboxBatchSize:           100,
		ReservationTTL:            30 * time.Minute,
		ReservationExpireInterval: time.Minute,
		PriceCacheTTL:             5 * time.Minute,
	}
}

// ReadConfig формирует конфигурацию приложения, позволяя переопределить
// значения через переменные окружения.
func ReadConfig() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("FULFILLMENT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FULFILLMENT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	cfg.KafkaBrokers = os.Getenv("KAFKA_BROKERS")
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	if d, ok := readDuration("OUTBOX_POLL_INTERVAL"); ok {
		cfg.OutboxPollInterval = d
	}
	if n, ok := readInt("OUTBOX_BATCH_SIZE"); ok {
		cfg.OutboxBatchSize = n
	}
	if d, ok := readDuration("RESERVATION_TTL"); ok {
		cfg.ReservationTTL = d
	}
	if d, ok := readDuration("RESERVATION_EXPIRE_INTERVAL"); ok {
		cfg.ReservationExpireInterval = d
	}
	if d, ok := readDuration("PRICE_CACHE_TTL"); ok {
		cfg.PriceCacheTTL = d
	}
	return cfg
}

func readDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func readInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
