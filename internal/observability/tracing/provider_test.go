package tracing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/v1/track"),
		attribute.String("email", "a@b.c"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
}

func TestSafeErrorTruncates(t *testing.T) {
	err := SafeError(errors.New(strings.Repeat("x", 300)))
	assert.Len(t, err.Error(), 256)
	assert.Nil(t, SafeError(nil))
}

func TestEnsureCorrelationIDIsStable(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	_, second := EnsureCorrelationID(ctx)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestNewProviderWithoutExporter(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "autumn", SamplingRatio: 1}, zap.NewNop())
	assert.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}
