package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func useInMemoryTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func spanAttrs(s tracetest.SpanStub) map[string]string {
	out := make(map[string]string, len(s.Attributes))
	for _, a := range s.Attributes {
		out[string(a.Key)] = a.Value.Emit()
	}
	return out
}

func TestTraceQuery_Span(t *testing.T) {
	exporter := useInMemoryTracer(t)

	_, end := TraceQuery(context.Background(), SystemSQLite, "HasDuplicateComment", "SELECT 1 FROM comments WHERE product_id = ?")
	end(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.HasDuplicateComment", spans[0].Name)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Equal(t, map[string]string{
		"db.system":    "sqlite",
		"db.operation": "HasDuplicateComment",
		"db.statement": "SELECT 1 FROM comments WHERE product_id = ?",
	}, spanAttrs(spans[0]))
}

func TestTraceQuery_Error(t *testing.T) {
	exporter := useInMemoryTracer(t)

	_, end := TraceQuery(context.Background(), SystemPostgres, "UpdateCommentStatus", "UPDATE comments SET status = $1 WHERE id = $2")
	end(errors.New("connection refused"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "connection refused", spans[0].Status.Description)
	assert.NotEmpty(t, spans[0].Events)
}

func TestTraceQuery_ChildOfCaller(t *testing.T) {
	exporter := useInMemoryTracer(t)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "PATCH /api/comments/{id}")
	_, end := TraceQuery(ctx, SystemPostgres, "UpdateCommentStatus", "UPDATE comments")
	end(nil)
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestSlowQueryLogging(t *testing.T) {
	useInMemoryTracer(t)
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	tests := []struct {
		name      string
		threshold time.Duration
		err       error
		want      []string
	}{
		{"over threshold", time.Nanosecond, nil, []string{"slow query detected", "ListAuditLogs", "SELECT * FROM comment_audit_logs"}},
		{"over threshold with error", time.Nanosecond, errors.New("timeout"), []string{"slow query detected", "timeout"}},
		{"under threshold", time.Hour, nil, nil},
		{"disabled", 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetSlowQueryLogging(tt.threshold, slog.New(slog.NewJSONHandler(&buf, nil)))

			_, end := TraceQuery(context.Background(), SystemPostgres, "ListAuditLogs", "SELECT * FROM comment_audit_logs")
			end(tt.err)

			if tt.want == nil {
				assert.Empty(t, buf.String())
				return
			}
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}
