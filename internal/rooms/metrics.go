package rooms

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/thereayou/roomkit/internal/rooms"

type metrics struct {
	joins       metric.Int64Counter
	leaves      metric.Int64Counter
	disconnects metric.Int64Counter
	inactive    metric.Int64Counter
	tracer      trace.Tracer
}

// newMetrics reads the global providers, so it is a no-op until telemetry is set up.
func newMetrics() *metrics {
	meter := otel.Meter(instrumentationName)
	joins, _ := meter.Int64Counter("room_joins_total",
		metric.WithDescription("Total room join events processed"))
	leaves, _ := meter.Int64Counter("room_leaves_total",
		metric.WithDescription("Total room leave events processed"))
	disconnects, _ := meter.Int64Counter("socket_disconnects_total",
		metric.WithDescription("Total websocket disconnects handled"))
	inactive, _ := meter.Int64Counter("presence_inactive_total",
		metric.WithDescription("Users marked gone after the grace period"))

	return &metrics{
		joins:       joins,
		leaves:      leaves,
		disconnects: disconnects,
		inactive:    inactive,
		tracer:      otel.Tracer(instrumentationName),
	}
}
