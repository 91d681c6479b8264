package app

import (
	"testing"
	"time"
)

func TestReadConfig_Defaults(t *testing.T) {
	for _, name := range []string{
		"FULFILLMENT_HTTP_ADDR", "FULFILLMENT_METRICS_ADDR",
		"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE",
		"RESERVATION_TTL", "RESERVATION_EXPIRE_INTERVAL", "PRICE_CACHE_TTL",
	} {
		t.Setenv(name, "")
	}

	cfg := ReadConfig()

	if cfg.HTTPAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.OutboxPollInterval != time.Second || cfg.OutboxBatchSize != 100 {
		t.Fatalf("unexpected outbox settings: %+v", cfg)
	}
	if cfg.ReservationTTL != 30*time.Minute || cfg.ReservationExpireInterval != time.Minute {
		t.Fatalf("unexpected reservation settings: %+v", cfg)
	}
	if cfg.PriceCacheTTL != 5*time.Minute {
		t.Fatalf("unexpected price cache ttl: %v", cfg.PriceCacheTTL)
	}
}

func TestReadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FULFILLMENT_HTTP_ADDR", ":18080")
	t.Setenv("FULFILLMENT_METRICS_ADDR", ":19090")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/fulfillment")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("OUTBOX_BATCH_SIZE", "25")
	t.Setenv("RESERVATION_TTL", "10m")
	t.Setenv("RESERVATION_EXPIRE_INTERVAL", "30s")
	t.Setenv("PRICE_CACHE_TTL", "1m")

	cfg := ReadConfig()

	if cfg.HTTPAddr != ":18080" || cfg.MetricsAddr != ":19090" {
		t.Fatalf("unexpected addresses: %+v", cfg)
	}
	if cfg.KafkaBrokers != "broker-1:9092,broker-2:9092" {
		t.Fatalf("unexpected brokers: %s", cfg.KafkaBrokers)
	}
	if cfg.PostgresDSN != "postgres://localhost/fulfillment" || cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected storage settings: %+v", cfg)
	}
	if cfg.OutboxPollInterval != 250*time.Millisecond || cfg.OutboxBatchSize != 25 {
		t.Fatalf("unexpected outbox settings: %+v", cfg)
	}
	if cfg.ReservationTTL != 10*time.Minute || cfg.ReservationExpireInterval != 30*time.Second {
		t.Fatalf("unexpected reservation settings: %+v", cfg)
	}
	if cfg.PriceCacheTTL != time.Minute {
		t.Fatalf("unexpected price cache ttl: %v", cfg.PriceCacheTTL)
	}
}

func TestReadConfig_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "not-a-duration")
	t.Setenv("OUTBOX_BATCH_SIZE", "-5")
	t.Setenv("RESERVATION_TTL", "0s")
	t.Setenv("PRICE_CACHE_TTL", "banana")

	cfg := ReadConfig()

	if cfg.OutboxPollInterval != time.Second {
		t.Fatalf("invalid duration must keep default, got %v", cfg.OutboxPollInterval)
	}
	if cfg.OutboxBatchSize != 100 {
		t.Fatalf("non-positive batch size must keep default, got %d", cfg.OutboxBatchSize)
	}
	if cfg.ReservationTTL != 30*time.Minute {
		t.Fatalf("zero ttl must keep default, got %v", cfg.ReservationTTL)
	}
	if cfg.PriceCacheTTL != 5*time.Minute {
		t.Fatalf("invalid ttl must keep default, got %v", cfg.PriceCacheTTL)
	}
}
