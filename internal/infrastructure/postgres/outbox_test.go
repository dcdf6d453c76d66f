package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/validrx/validrx/internal/domain/catalog"
	"github.com/validrx/validrx/internal/infrastructure/postgres"
)

// newTestPool connects to VALIDRX_TEST_DATABASE_URL or skips. Each test gets
// its own schema so the relay only sees the rows it wrote.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("VALIDRX_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VALIDRX_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := "outbox_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	admin, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, catalog.Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return pool
}

type published struct {
	topic, key string
	value      []byte
}

// flakyPublisher fails every publish whose key is in failKeys, except to the dead letter topic
type flakyPublisher struct {
	mu       sync.Mutex
	failKeys map[string]bool
	sent     []published
	attempts map[string]int
}

func (p *flakyPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attempts == nil {
		p.attempts = make(map[string]int)
	}
	if topic != "dead.letter" {
		p.attempts[key]++
		if p.failKeys[key] {
			return errors.New("broker unavailable")
		}
	}
	p.sent = append(p.sent, published{topic, key, value})
	return nil
}

func (p *flakyPublisher) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, s := range p.sent {
		if s.topic == topic {
			out = append(out, s)
		}
	}
	return out
}

func writeEntries(t *testing.T, pool *pgxpool.Pool, keys ...string) {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)

	for _, key := range keys {
		entry := &postgres.OutboxEntry{
			AggregateID:   key,
			AggregateType: "Drug",
			EventType:     "DrugUpserted",
			Payload:       json.RawMessage(`{"drug_id":"` + key + `"}`),
			KafkaTopic:    "catalog.events",
			KafkaKey:      key,
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
		if entry.ID == 0 {
			t.Error("WriteEntry did not return an id")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
}

func stats(t *testing.T, o *postgres.Outbox) *postgres.OutboxStats {
	t.Helper()
	s, err := o.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	return s
}

func TestOutbox_RetryThenDeadLetter(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	pub := &flakyPublisher{failKeys: map[string]bool{"MED_BAD": true}}
	cfg := postgres.DefaultOutboxConfig()
	cfg.MaxRetries = 2
	outbox := postgres.NewOutbox(pool, pub, cfg, nil)

	writeEntries(t, pool, "MED_OK", "MED_BAD")

	n, err := outbox.ProcessBatch(ctx)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if n != 1 {
		t.Errorf("published %d, want 1", n)
	}
	if got := pub.on("catalog.events"); len(got) != 1 || got[0].key != "MED_OK" {
		t.Fatalf("published %+v", got)
	}
	if s := stats(t, outbox); s.Pending != 1 || s.Processed != 1 || s.Failed != 0 {
		t.Errorf("after first batch: %+v", s)
	}

	if _, err := outbox.ProcessBatch(ctx); err != nil {
		t.Fatal(err)
	}
	if s := stats(t, outbox); s.Pending != 0 || s.Failed != 1 {
		t.Errorf("after retries exhausted: %+v", s)
	}

	// exhausted entries are no longer fetched
	if _, err := outbox.ProcessBatch(ctx); err != nil {
		t.Fatal(err)
	}
	if got := pub.attempts["MED_BAD"]; got != 2 {
		t.Errorf("MED_BAD publish attempts = %d, want 2", got)
	}

	moved, err := outbox.MoveToDeadLetter(ctx)
	if err != nil {
		t.Fatalf("MoveToDeadLetter: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved %d, want 1", moved)
	}

	dl := pub.on("dead.letter")
	if len(dl) != 1 || dl[0].key != "MED_BAD" {
		t.Fatalf("dead letters %+v", dl)
	}
	var envelope struct {
		OriginalTopic string          `json:"original_topic"`
		EventType     string          `json:"event_type"`
		RetryCount    int             `json:"retry_count"`
		LastError     *string         `json:"last_error"`
		Payload       json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(dl[0].value, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.OriginalTopic != "catalog.events" || envelope.EventType != "DrugUpserted" || envelope.RetryCount != 2 {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.LastError == nil || *envelope.LastError != "broker unavailable" {
		t.Errorf("last error = %v", envelope.LastError)
	}

	if s := stats(t, outbox); s.Pending != 0 || s.Failed != 0 || s.Processed != 2 {
		t.Errorf("after dead letter: %+v", s)
	}
	if moved, err := outbox.MoveToDeadLetter(ctx); err != nil || moved != 0 {
		t.Errorf("second MoveToDeadLetter = %d, %v", moved, err)
	}
}

func TestOutbox_CleanupProcessed(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	outbox := postgres.NewOutbox(pool, &flakyPublisher{}, postgres.DefaultOutboxConfig(), nil)
	writeEntries(t, pool, "MED_OLD", "MED_NEW", "MED_PENDING")

	if _, err := pool.Exec(ctx, `UPDATE outbox SET processed_at = NOW() - INTERVAL '2 hours' WHERE kafka_key = 'MED_OLD'`); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, `UPDATE outbox SET processed_at = NOW() WHERE kafka_key = 'MED_NEW'`); err != nil {
		t.Fatal(err)
	}

	deleted, err := outbox.CleanupProcessed(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupProcessed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d, want 1", deleted)
	}

	var remaining int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM outbox").Scan(&remaining); err != nil {
		t.Fatal(err)
	}
	if remaining != 2 {
		t.Errorf("remaining rows = %d, want 2", remaining)
	}
}
