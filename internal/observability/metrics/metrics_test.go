package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("customer_id", "456"),
		attribute.String("feature_id", "messages"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "org_id" && attrs[1].Key != "org_id" {
		t.Fatalf("expected org_id to be retained")
	}
	if attrs[0].Key != "feature_id" && attrs[1].Key != "feature_id" {
		t.Fatalf("expected feature_id to be retained")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordTrack(context.Background(), "1", "messages", "applied")
	m.RecordCacheLookup(context.Background(), true)

	noop := NewNoop()
	noop.RecordSyncItem(context.Background(), "applied")
	noop.RecordCheck(context.Background(), "1", "messages", false)
}
