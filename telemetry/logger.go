package telemetry

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nexconv/types"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a new logger with OTEL hooks writing to stderr.
func NewLogger(service string) *Logger {
	return NewLoggerTo(os.Stderr, service)
}

// NewLoggerTo creates a logger writing JSON lines to w.
func NewLoggerTo(w io.Writer, service string) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogDecision logs the decision taken for one object.
func (l *Logger) LogDecision(ctx context.Context, d types.Decision) {
	event := l.WithContext(ctx).Info()
	if d.Action == types.ActionNoop {
		event = l.WithContext(ctx).Debug()
	}
	event.
		Str("kind", d.Kind).
		Str("resource", d.ResourceID).
		Str("action", string(d.Action)).
		Strs("changes", types.Fields(d.Changes)).
		Msg(d.Reason)
}

// LogScriptCall logs one call against the scripting endpoint.
func (l *Logger) LogScriptCall(ctx context.Context, script, phase string, err error) {
	if err != nil {
		l.WithContext(ctx).Error().
			Err(err).
			Str("script", script).
			Str("phase", phase).
			Str("error_kind", string(types.KindOf(err))).
			Msg("script call failed")
		return
	}
	l.WithContext(ctx).Debug().
		Str("script", script).
		Str("phase", phase).
		Msg("script call completed")
}

// LogConvergeError logs a failed convergence run with its error kind.
func (l *Logger) LogConvergeError(ctx context.Context, kind, resource string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("kind", kind).
		Str("resource", resource).
		Str("error_kind", string(types.KindOf(err))).
		Msg("convergence failed")
}
