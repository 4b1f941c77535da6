package pool

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/testutil"
)

func spanAttr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestExecute_RecordsSpan(t *testing.T) {
	srv := testutil.NewUpstream(t).WithStatuses(503, 200)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	m, err := New(testConfig(), WithLogger(logging.NewNopLogger()), WithTracerProvider(tp))
	require.NoError(t, err)
	defer m.Close(context.Background())

	_, err = m.Execute(context.Background(), Get(srv.URL()+"/v1/items"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "outbound.execute", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)

	status, ok := spanAttr(span, "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())

	attempts, ok := spanAttr(span, "outbound.attempts")
	require.True(t, ok)
	assert.Equal(t, int64(2), attempts.AsInt64())

	hostKey, ok := spanAttr(span, "outbound.host_key")
	require.True(t, ok)
	assert.Equal(t, srv.HostKey(), hostKey.AsString())
}

func TestExecute_RecordsSpanError(t *testing.T) {
	srv := testutil.NewUpstream(t).WithStatuses(404)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	m, err := New(testConfig(), WithLogger(logging.NewNopLogger()), WithTracerProvider(tp))
	require.NoError(t, err)
	defer m.Close(context.Background())

	_, err = m.Execute(context.Background(), Get(srv.URL()))
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "http_status", spans[0].Status.Description)
	assert.NotEmpty(t, spans[0].Events, "the error is recorded as a span event")
}
