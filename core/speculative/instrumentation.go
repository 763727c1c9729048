package speculative

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/elaravoice/elara-core/core/speculative"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	fallbackUses, _ = meter.Int64Counter("speculative.fallback_uses",
		metric.WithDescription("Executions that fell back to the slow model."))
	executeLatency, _ = meter.Float64Histogram("speculative.execute_latency",
		metric.WithDescription("Wall time of one Execute call."),
		metric.WithUnit("s"))
)
