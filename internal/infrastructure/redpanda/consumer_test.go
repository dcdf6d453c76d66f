package redpanda

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
)

func newTestCluster(t *testing.T) []string {
	t.Helper()
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, TopicClinicalCheckRequests))
	if err != nil {
		t.Fatalf("start cluster: %v", err)
	}
	t.Cleanup(cluster.Close)
	return cluster.ListenAddrs()
}

func produceValues(t *testing.T, brokers []string, values ...string) {
	t.Helper()
	cfg := DefaultProducerConfig()
	cfg.Brokers = brokers
	cfg.Compression = ""
	p, err := NewProducer(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, v := range values {
		if err := p.ProduceMessage(ctx, TopicClinicalCheckRequests, v, []byte(v)); err != nil {
			t.Fatalf("produce %s: %v", v, err)
		}
	}
}

func testConsumerConfig(brokers []string, group string) ConsumerConfig {
	cfg := DefaultConsumerConfig()
	cfg.Brokers = brokers
	cfg.GroupID = group
	cfg.Topics = []string{TopicClinicalCheckRequests}
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.MaxRetryBackoff = 50 * time.Millisecond
	return cfg
}

func committedOffset(t *testing.T, brokers []string, group string) int64 {
	t.Helper()
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		t.Fatal(err)
	}
	adm := kadm.NewClient(cl)
	defer adm.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offsets, err := adm.FetchOffsets(ctx, group)
	if err != nil {
		t.Fatalf("fetch offsets: %v", err)
	}
	o, ok := offsets.Lookup(TopicClinicalCheckRequests, 0)
	if !ok {
		return -1
	}
	return o.At
}

type valueLog struct {
	mu     sync.Mutex
	values []string
}

func (l *valueLog) add(v string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v)
	return len(l.values)
}

func (l *valueLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.values...)
}

func TestConsumerRetriesFailedRecordBeforeMovingOn(t *testing.T) {
	brokers := newTestCluster(t)
	produceValues(t, brokers, "first", "second")

	var seen valueLog
	failures := 2
	done := make(chan struct{})
	handler := func(ctx context.Context, msg *ConsumedMessage) error {
		v := string(msg.Value)
		seen.add(v)
		if v == "first" && failures > 0 {
			failures--
			return errors.New("publish failed")
		}
		if v == "second" {
			close(done)
		}
		return nil
	}

	c, err := NewConsumer(testConsumerConfig(brokers, "retry-group"), handler, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Start()

	select {
	case <-done:
	case <-time.After(20 * time.Second):
		c.Stop()
		t.Fatalf("timed out, handled %v", seen.snapshot())
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	want := []string{"first", "first", "first", "second"}
	got := seen.snapshot()
	if len(got) != len(want) {
		t.Fatalf("handled %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handled %v, want %v", got, want)
		}
	}

	stats := c.Stats()
	if stats.MessagesRead != 2 || stats.ErrorCount < 2 {
		t.Errorf("stats = %+v", stats)
	}
	if off := committedOffset(t, brokers, "retry-group"); off != 2 {
		t.Errorf("committed offset = %d, want 2", off)
	}
}

func TestConsumerLeavesFailedRecordUncommittedOnStop(t *testing.T) {
	brokers := newTestCluster(t)
	produceValues(t, brokers, "first", "second")

	attempted := make(chan struct{}, 1)
	failing := func(ctx context.Context, msg *ConsumedMessage) error {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return errors.New("broker down")
	}

	c1, err := NewConsumer(testConsumerConfig(brokers, "redeliver-group"), failing, nil)
	if err != nil {
		t.Fatal(err)
	}
	c1.Start()
	select {
	case <-attempted:
	case <-time.After(20 * time.Second):
		c1.Stop()
		t.Fatal("first consumer never received a record")
	}
	if err := c1.Stop(); err != nil {
		t.Fatal(err)
	}
	if off := committedOffset(t, brokers, "redeliver-group"); off > 0 {
		t.Fatalf("committed offset %d past the failed record", off)
	}

	var seen valueLog
	done := make(chan struct{})
	accepting := func(ctx context.Context, msg *ConsumedMessage) error {
		if seen.add(string(msg.Value)) == 2 {
			close(done)
		}
		return nil
	}
	c2, err := NewConsumer(testConsumerConfig(brokers, "redeliver-group"), accepting, nil)
	if err != nil {
		t.Fatal(err)
	}
	c2.Start()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		c2.Stop()
		t.Fatalf("timed out, redelivered %v", seen.snapshot())
	}
	c2.Stop()

	if got := seen.snapshot(); got[0] != "first" || got[1] != "second" {
		t.Errorf("redelivered %v, want [first second]", got)
	}
}

func TestHealthCheck(t *testing.T) {
	brokers := newTestCluster(t)
	if err := HealthCheck(context.Background(), brokers); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
