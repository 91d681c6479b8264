package main

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func enqueueDeadMessage(t *testing.T, store *memory.Store) domain.OutboxMessage {
	t.Helper()

	ctx := context.Background()
	var msg domain.OutboxMessage
	if err := store.Do(ctx, func(tx domain.Repositories) error {
		var err error
		msg, err = tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   "order-1",
			EventType:     domain.EventOrderCreated,
			Payload:       []byte(`{}`),
		})
		if err != nil {
			return err
		}
		_, err = tx.Outbox().MarkFailed(msg.ID, "broker unavailable", time.Now().UTC())
		return err
	}); err != nil {
		t.Fatalf("prepare dead message: %v", err)
	}
	return msg
}

func deadCount(t *testing.T, store *memory.Store) int {
	t.Helper()

	var stats domain.OutboxStats
	if err := store.Do(context.Background(), func(tx domain.Repositories) error {
		var err error
		stats, err = tx.Outbox().Stats()
		return err
	}); err != nil {
		t.Fatalf("read outbox stats: %v", err)
	}
	return stats.DeadCount
}

func TestRunRedrive_DryRunLeavesDeadQueueIntact(t *testing.T) {
	store := memory.NewStore(memory.WithMaxPublishAttempts(1))
	enqueueDeadMessage(t, store)

	cfg := config{limit: 10, execute: false}
	if err := runRedrive(context.Background(), cfg, store); err != nil {
		t.Fatalf("dry-run failed: %v", err)
	}

	if got := deadCount(t, store); got != 1 {
		t.Fatalf("dry-run must not redrive, dead count = %d", got)
	}
}

func TestRunRedrive_ExecuteReturnsMessageToQueue(t *testing.T) {
	store := memory.NewStore(memory.WithMaxPublishAttempts(1))
	enqueueDeadMessage(t, store)

	cfg := config{limit: 10, execute: true}
	if err := runRedrive(context.Background(), cfg, store); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if got := deadCount(t, store); got != 0 {
		t.Fatalf("expected empty dead queue after redrive, got %d", got)
	}
}

func TestRunRedrive_SingleIDNotInDeadQueue(t *testing.T) {
	store := memory.NewStore(memory.WithMaxPublishAttempts(1))
	enqueueDeadMessage(t, store)

	cfg := config{limit: 10, execute: true, messageID: "missing-id"}
	if err := runRedrive(context.Background(), cfg, store); err == nil {
		t.Fatal("expected error for unknown message id")
	}

	if got := deadCount(t, store); got != 1 {
		t.Fatalf("failed run must not mutate dead queue, got %d", got)
	}
}

func TestRunRedrive_SingleIDOnly(t *testing.T) {
	store := memory.NewStore(memory.WithMaxPublishAttempts(1))
	first := enqueueDeadMessage(t, store)
	enqueueDeadMessage(t, store)

	cfg := config{limit: 10, execute: true, messageID: first.ID}
	if err := runRedrive(context.Background(), cfg, store); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if got := deadCount(t, store); got != 1 {
		t.Fatalf("expected exactly one message left dead, got %d", got)
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("REDRIVE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "REDRIVE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
