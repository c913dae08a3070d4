package database

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/hdpay/pkg/database"

// QueryTracer opens a client span per repository statement and warns about
// statements slower than its threshold. A nil *QueryTracer traces through
// the global provider and never reports slow statements.
type QueryTracer struct {
	tracer    trace.Tracer
	threshold time.Duration
	logger    *slog.Logger
}

// NewQueryTracer creates a tracer on tp, or on the global provider when tp
// is nil. A zero threshold or nil logger disables slow statement logging.
func NewQueryTracer(tp trace.TracerProvider, threshold time.Duration, logger *slog.Logger) *QueryTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &QueryTracer{
		tracer:    tp.Tracer(tracerName),
		threshold: threshold,
		logger:    logger,
	}
}

// Start begins the span for one operation. Call the returned function with
// the operation's error when it completes:
//
//	ctx, end := r.tracer.Start(ctx, "GetOrderByID", "SELECT ... FROM orders WHERE id = $1")
//	defer func() { end(err) }()
func (t *QueryTracer) Start(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	tracer := otel.Tracer(tracerName)
	var threshold time.Duration
	var logger *slog.Logger
	if t != nil {
		tracer, threshold, logger = t.tracer, t.threshold, t.logger
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		defer span.End()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		if threshold <= 0 || logger == nil {
			return
		}
		elapsed := time.Since(start)
		if elapsed < threshold {
			return
		}
		span.SetAttributes(attribute.Bool("db.slow", true))
		attrs := []any{
			slog.String("operation", operation),
			slog.String("statement", statement),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
