package activation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
	"keygate/pkg/contracts/domain"
)

const TracerName = "keygate-activation"

// Operation names used for spans, metrics and logs
const (
	OpActivate    = "activate"
	OpRecordUsage = "record_usage"
	OpCheck       = "check"
	OpStatus      = "status"
)

// Metrics holds the activation OpenTelemetry instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	Operations     metric.Int64Counter
	Results        metric.Int64Counter
	Duration       metric.Float64Histogram
	UsageRecorded  metric.Int64Counter
	TamperDetected metric.Int64Counter
	StorageErrors  metric.Int64Counter
}

// InitializeMetrics creates the activation instruments on meter
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Operations, err = meter.Int64Counter(
		"keygate_activation_operations_total",
		metric.WithDescription("Total number of activation operations by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	m.Results, err = meter.Int64Counter(
		"keygate_activation_results_total",
		metric.WithDescription("Activation operation outcomes by result kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results counter: %w", err)
	}

	m.Duration, err = meter.Float64Histogram(
		"keygate_activation_duration_seconds",
		metric.WithDescription("Activation operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	m.UsageRecorded, err = meter.Int64Counter(
		"keygate_usage_recorded_total",
		metric.WithDescription("Units of use consumed against usage-limited codes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}

	m.TamperDetected, err = meter.Int64Counter(
		"keygate_clock_tamper_detected_total",
		metric.WithDescription("Clock rollbacks detected against the activation record"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tamper counter: %w", err)
	}

	m.StorageErrors, err = meter.Int64Counter(
		"keygate_storage_errors_total",
		metric.WithDescription("Activation store and identity failures (access denied)"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage errors counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) record(ctx context.Context, op string, result domain.ActivationResult, err error, duration time.Duration) {
	if m == nil {
		return
	}

	opAttr := metric.WithAttributes(attribute.String("operation", op))
	m.Operations.Add(ctx, 1, opAttr)
	m.Duration.Record(ctx, duration.Seconds(), opAttr)

	if err != nil {
		m.StorageErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("error_type", classifyError(err)),
		))
		return
	}

	m.Results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", string(result.Kind)),
	))
}

func (m *Metrics) usageRecorded(ctx context.Context) {
	if m == nil {
		return
	}
	m.UsageRecorded.Add(ctx, 1)
}

func (m *Metrics) tamperDetected(ctx context.Context, reboot bool) {
	if m == nil {
		return
	}
	m.TamperDetected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("reboot", reboot)))
}

// traced runs one operation inside a span, then records metrics and the
// outcome log line
func (in *instrumentation) traced(ctx context.Context, op, code string, fn func(context.Context) (domain.ActivationResult, error)) (domain.ActivationResult, error) {
	ctx = infrastructure.EnsureTraceID(ctx)

	attrs := []attribute.KeyValue{
		attribute.String("activation.operation", op),
		attribute.String("component", "activation"),
	}
	if code != "" {
		attrs = append(attrs, attribute.String("activation.code_hash", hashCode(code)))
	}
	ctx, span := otel.Tracer(TracerName).Start(ctx, "activation."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	in.metrics.record(ctx, op, result, err, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("activation.error_type", classifyError(err)))
		in.logError(ctx, op, "failed", err, code)
		return result, err
	}

	span.SetAttributes(attribute.String("activation.result", string(result.Kind)))
	span.SetStatus(codes.Ok, "")
	in.logResult(ctx, op, result, code, duration)
	return result, nil
}

func classifyError(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrRecordTampered):
		return "record_tampered"
	case errors.Is(err, apperrors.ErrRecordMissing):
		return "record_missing"
	case errors.Is(err, apperrors.ErrUnsupportedSchema):
		return "unsupported_schema"
	case errors.Is(err, apperrors.ErrIdentity):
		return "identity"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	case apperrors.IsStorageError(err):
		return "storage_io"
	default:
		return "unknown"
	}
}
