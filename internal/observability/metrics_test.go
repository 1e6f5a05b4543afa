package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("publishing"))
	RecordTransition("publishing")
	RecordTransition("publishing")
	assert.Equal(t, before+2, testutil.ToFloat64(transitions.WithLabelValues("publishing")))
}

func TestRecordFallback(t *testing.T) {
	before := testutil.ToFloat64(fallbacks.WithLabelValues("poll_exhausted"))
	RecordFallback("poll_exhausted")
	assert.Equal(t, before+1, testutil.ToFloat64(fallbacks.WithLabelValues("poll_exhausted")))
}

func TestSetInFlight(t *testing.T) {
	SetInFlight(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(inFlight))
	SetInFlight(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(inFlight))
}

func TestTracingDisabledByDefault(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{})
	require.NoError(t, err)
	ctx, span := StartSpan(context.Background(), "noop")
	span.End()
	assert.NotNil(t, ctx)
	assert.NoError(t, shutdown(context.Background()))
}
