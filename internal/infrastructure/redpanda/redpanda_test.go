package redpanda

import (
	"context"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultTopicConfigs(t *testing.T) {
	want := map[string]bool{
		TopicCatalogEvents:         false,
		TopicClinicalCheckRequests: false,
		TopicClinicalCheckResults:  false,
		TopicDeadLetter:            false,
	}
	for _, cfg := range DefaultTopicConfigs() {
		if _, ok := want[cfg.Name]; !ok {
			t.Errorf("unexpected topic %s", cfg.Name)
			continue
		}
		want[cfg.Name] = true
		if cfg.Partitions < 1 || cfg.ReplicationFactor < 1 {
			t.Errorf("%s: invalid partitions/replication %d/%d", cfg.Name, cfg.Partitions, cfg.ReplicationFactor)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing topic %s", name)
		}
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "request-id", Value: []byte("r1")}}}
	injectTraceHeaders(ctx, record)

	carrier := headerCarrier{record: record}
	if got := carrier.Get("traceparent"); got != "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01" {
		t.Fatalf("traceparent = %q", got)
	}
	if carrier.Get("request-id") != "r1" {
		t.Error("existing headers must be kept")
	}

	extracted := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	if extracted.TraceID() != traceID || !extracted.IsRemote() {
		t.Errorf("extracted span context = %+v", extracted)
	}
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	record := &kgo.Record{}
	c := headerCarrier{record: record}
	c.Set("k", "1")
	c.Set("k", "2")
	if len(record.Headers) != 1 || c.Get("k") != "2" {
		t.Errorf("headers = %+v", record.Headers)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "k" {
		t.Errorf("keys = %v", keys)
	}
}
