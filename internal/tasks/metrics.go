package tasks

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "todo_store_operations_total",
			Help: "Storage operations by kind and outcome",
		},
		[]string{"op", "result"},
	)

	storeConnectionsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "todo_store_connections_in_use",
			Help: "Request-scoped storage connections currently held",
		},
	)
)

func init() {
	prometheus.MustRegister(storeOperationsTotal, storeConnectionsInUse)
}

// observe opens a span for a storage operation and returns the func that
// closes it and counts the outcome.
func observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer("tasks/store").Start(ctx, "store."+op)
	span.SetAttributes(attrs...)
	return ctx, func(err error) {
		result := "ok"
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			result = "not_found"
		default:
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		storeOperationsTotal.WithLabelValues(op, result).Inc()
		span.End()
	}
}
