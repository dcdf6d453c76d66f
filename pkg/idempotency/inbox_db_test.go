package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/validrx/validrx/internal/domain/catalog"
)

// newTestInbox connects to VALIDRX_TEST_DATABASE_URL or skips. The inbox
// table lives in a schema private to the test.
func newTestInbox(t *testing.T, cfg InboxConfig) (*Inbox, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("VALIDRX_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VALIDRX_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := "inbox_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
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

	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatal(err)
	}
	pcfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, catalog.Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewInbox(pool, cfg, nil), pool
}

func entryStatus(t *testing.T, inbox *Inbox, key string) Status {
	t.Helper()
	entry, err := inbox.getEntry(context.Background(), key)
	if err != nil {
		t.Fatalf("getEntry: %v", err)
	}
	return entry.Status
}

func TestInbox_ReplaysFinishedResult(t *testing.T) {
	inbox, _ := newTestInbox(t, DefaultInboxConfig())
	ctx := context.Background()
	key := GenerateKey("client-a", "POST", "/drugs", uuid.NewString())

	calls := 0
	handler := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"status":201,"body":{"id":"MED_X"}}`), nil
	}

	first, err := inbox.Process(ctx, key, "create_drug", json.RawMessage(`{"id":"MED_X"}`), handler)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if !first.IsNew || first.Replayed {
		t.Errorf("first = %+v", first)
	}

	second, err := inbox.Process(ctx, key, "create_drug", json.RawMessage(`{"id":"MED_X"}`), handler)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Replayed || calls != 1 {
		t.Errorf("second = %+v, handler calls = %d", second, calls)
	}
	var got, want map[string]interface{}
	_ = json.Unmarshal(second.Result, &got)
	_ = json.Unmarshal(first.Result, &want)
	if got["status"] != want["status"] {
		t.Errorf("replayed %s, want %s", second.Result, first.Result)
	}
	if s := entryStatus(t, inbox, key); s != StatusFinished {
		t.Errorf("status = %s", s)
	}
}

func TestInbox_TerminalFailureIsNotRetried(t *testing.T) {
	inbox, _ := newTestInbox(t, DefaultInboxConfig())
	ctx := context.Background()
	key := GenerateKey("client-a", "DELETE", "/drugs/{id}", uuid.NewString())

	calls := 0
	handler := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return nil, errors.New("drug MED_X not found")
	}

	if _, err := inbox.Process(ctx, key, "delete_drug", nil, handler); err == nil || errors.Is(err, ErrPreviouslyFailed) {
		t.Fatalf("first Process error = %v", err)
	}
	_, err := inbox.Process(ctx, key, "delete_drug", nil, handler)
	if !errors.Is(err, ErrPreviouslyFailed) || !strings.Contains(err.Error(), "drug MED_X not found") {
		t.Errorf("second Process error = %v", err)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	if s := entryStatus(t, inbox, key); s != StatusFailed {
		t.Errorf("status = %s", s)
	}
}

func TestInbox_TransientFailureIsRetried(t *testing.T) {
	inbox, _ := newTestInbox(t, DefaultInboxConfig())
	ctx := context.Background()
	key := GenerateKey("client-a", "POST", "/interactions", uuid.NewString())

	fail := true
	handler := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		if fail {
			fail = false
			return nil, errors.New("connection reset by peer")
		}
		return json.RawMessage(`{"status":201}`), nil
	}

	if _, err := inbox.Process(ctx, key, "add_interaction", nil, handler); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if s := entryStatus(t, inbox, key); s != StatusRecoverable {
		t.Fatalf("status after transient failure = %s", s)
	}

	res, err := inbox.Process(ctx, key, "add_interaction", nil, handler)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.WasRecovered || res.Replayed {
		t.Errorf("retry result = %+v", res)
	}
}

func TestInbox_InProgressAndStaleRecovery(t *testing.T) {
	cfg := DefaultInboxConfig()
	cfg.RecoveryTimeout = time.Hour
	inbox, pool := newTestInbox(t, cfg)
	ctx := context.Background()
	key := GenerateKey("client-a", "PUT", "/drugs/{id}", uuid.NewString())

	// a second request for the same key while the first is running
	var nestedErr error
	_, err := inbox.Process(ctx, key, "replace_drug", nil, func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		_, nestedErr = inbox.Process(ctx, key, "replace_drug", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
			t.Error("nested handler must not run")
			return nil, nil
		})
		return json.RawMessage(`{"status":200}`), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(nestedErr, ErrMessageInProgress) {
		t.Errorf("nested Process error = %v, want ErrMessageInProgress", nestedErr)
	}

	// a worker that died mid-request leaves a STARTED row behind
	staleKey := GenerateKey("client-a", "PUT", "/drugs/{id}", uuid.NewString())
	if _, err := pool.Exec(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, updated_at, expires_at)
		VALUES ($1, 'replace_drug', 'STARTED', NOW() - INTERVAL '2 hours', NOW() + INTERVAL '1 day')`, staleKey); err != nil {
		t.Fatal(err)
	}

	recovered, err := inbox.RecoverStaleEntries(ctx)
	if err != nil {
		t.Fatalf("RecoverStaleEntries: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered %d, want 1", recovered)
	}
	if s := entryStatus(t, inbox, staleKey); s != StatusRecoverable {
		t.Errorf("status = %s", s)
	}

	res, err := inbox.Process(ctx, staleKey, "replace_drug", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"status":200}`), nil
	})
	if err != nil {
		t.Fatalf("Process after recovery: %v", err)
	}
	if !res.WasRecovered {
		t.Errorf("result = %+v", res)
	}
	if s := entryStatus(t, inbox, staleKey); s != StatusFinished {
		t.Errorf("status = %s", s)
	}
}

func TestInbox_CleanupAndStats(t *testing.T) {
	inbox, pool := newTestInbox(t, DefaultInboxConfig())
	ctx := context.Background()

	if _, err := pool.Exec(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, expires_at) VALUES
		('expired', 'create_drug', 'FINISHED', NOW() - INTERVAL '1 minute'),
		('live', 'create_drug', 'FAILED', NOW() + INTERVAL '1 day')`); err != nil {
		t.Fatal(err)
	}

	deleted, err := inbox.Cleanup(ctx)
	if err != nil || deleted != 1 {
		t.Fatalf("Cleanup = %d, %v", deleted, err)
	}

	stats, err := inbox.GetStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 1 || stats.Failed != 1 || stats.Finished != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
