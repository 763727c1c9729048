package pipeline

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/elaravoice/elara-core/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	framesProcessed, _ = meter.Int64Counter("pipeline.frames_processed",
		metric.WithDescription("Audio frames pushed through ProcessAudio."))
	bargeInsTriggered, _ = meter.Int64Counter("pipeline.barge_ins",
		metric.WithDescription("Barge-in interruptions triggered."))
)
