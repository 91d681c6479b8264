package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const (
	defaultRedriveLimit = 100
	defaultTimeout      = 30 * time.Second
)

type config struct {
	dsn       string
	messageID string
	limit     int
	execute   bool
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := runRedrive(ctx, cfg, store); err != nil {
		fail("outbox redrive failed: %v", err)
	}
}

func readConfig() (config, error) {
	var cfg config

	flag.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: POSTGRES_DSN)")
	flag.StringVar(&cfg.messageID, "id", "", "redrive a single outbox message by id")
	flag.IntVar(&cfg.limit, "limit", defaultRedriveLimit, "max number of dead messages to scan/redrive")
	flag.BoolVar(&cfg.execute, "execute", false, "execute redrive; default is dry-run")
	flag.Parse()

	if strings.TrimSpace(cfg.dsn) == "" {
		cfg.dsn = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("POSTGRES_DSN (or -dsn) is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}

	return cfg, nil
}

// runRedrive сканирует dead-записи outbox и возвращает выбранные в очередь
// публикации. Без -execute только перечисляет кандидатов.
func runRedrive(ctx context.Context, cfg config, uow domain.UnitOfWork) error {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":  mode,
		"limit": cfg.limit,
		"id":    cfg.messageID,
	}).Info("starting outbox redrive")

	var scanned, redriven int
	err := uow.Do(ctx, func(tx domain.Repositories) error {
		dead, err := tx.Outbox().ListDead(cfg.limit)
		if err != nil {
			return fmt.Errorf("list dead outbox messages: %w", err)
		}

		if cfg.messageID != "" {
			dead = filterByID(dead, cfg.messageID)
			if len(dead) == 0 {
				return fmt.Errorf("outbox message %s is not in the dead queue", cfg.messageID)
			}
		}

		for _, msg := range dead {
			scanned++
			log.WithFields(log.Fields{
				"outbox_id":    msg.ID,
				"event_type":   msg.EventType,
				"aggregate_id": msg.AggregateID,
				"attempts":     msg.AttemptCount,
				"last_error":   msg.LastError,
			}).Info("dead outbox message")

			if !cfg.execute {
				continue
			}
			if err := tx.Outbox().Redrive(msg.ID); err != nil {
				return fmt.Errorf("redrive outbox message %s: %w", msg.ID, err)
			}
			redriven++
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  scanned,
		"redriven": redriven,
	}).Info("outbox redrive finished")

	return nil
}

func filterByID(messages []domain.OutboxMessage, id string) []domain.OutboxMessage {
	for _, msg := range messages {
		if msg.ID == id {
			return []domain.OutboxMessage{msg}
		}
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
