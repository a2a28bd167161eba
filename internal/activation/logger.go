package activation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"keygate/internal/infrastructure"
	"keygate/internal/registry"
	"keygate/pkg/contracts/domain"
)

// instrumentation is shared by the Validator and the Status Service
type instrumentation struct {
	logger  *slog.Logger
	metrics *Metrics
}

func newInstrumentation(logger *slog.Logger, metrics *Metrics) instrumentation {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return instrumentation{
		logger:  logger.With(slog.String("component", "activation")),
		metrics: metrics,
	}
}

func (in *instrumentation) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
	}
	all = append(all, attrs...)
	in.logger.LogAttrs(ctx, level, action+" "+result, all...)
}

func (in *instrumentation) logResult(ctx context.Context, op string, result domain.ActivationResult, code string, duration time.Duration) {
	level := slog.LevelInfo
	switch {
	case op == OpStatus, op == OpCheck && result.OK():
		level = slog.LevelDebug
	case !result.OK():
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{slog.Duration("duration", duration)}
	if code != "" {
		attrs = append(attrs, codeAttrs(code)...)
	}
	if result.Reason != "" {
		attrs = append(attrs, slog.String("reason", result.Reason))
	}
	in.logAction(ctx, level, op, string(result.Kind), attrs...)
}

func (in *instrumentation) logError(ctx context.Context, op, result string, err error, code string) {
	attrs := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", classifyError(err)),
		slog.String("access", "denied"),
	}
	if code != "" {
		attrs = append(attrs, codeAttrs(code)...)
	}
	in.logAction(ctx, slog.LevelError, op, result, attrs...)
}

func codeAttrs(code string) []slog.Attr {
	return []slog.Attr{
		slog.String("code", maskCode(code)),
		slog.String("code_hash", hashCode(code)),
	}
}

// maskCode keeps the first and last four characters of a normalized code
func maskCode(code string) string {
	n := registry.Normalize(code)
	if len(n) <= 8 {
		return "****"
	}
	return n[:4] + "****" + n[len(n)-4:]
}

// hashCode gives a stable correlation id for a code without revealing it
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(registry.Normalize(code)))
	return hex.EncodeToString(sum[:])[:16]
}
