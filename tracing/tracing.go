// Package tracing handles opentracing support for the request handler
package tracing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	basic "github.com/opentracing/basictracer-go"
	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedTracer is returned when an unsupported opentracing
	// implementation was requested as tracer
	ErrUnsupportedTracer = errors.New("invalid argument, not a supported tracer")
	// ErrMissingArguments is returned when an empty list is passed to InitTracer()
	ErrMissingArguments = errors.New("no arguments passed")
)

// These tags are compatible with github.com/opentracing/opentracing-go/ext.
const (
	ComponentTag      = "component"
	HTTPUrlTag        = "http.url"
	HTTPMethodTag     = "http.method"
	HTTPStatusCodeTag = "http.status_code"
	ErrorTag          = "error"
	RouteKindTag      = "route.kind"
	RendererTag       = "renderer.id"
	DepthTag          = "composition.depth"
)

// InitTracer creates the tracer selected by the first element of opts.
// Supported are "noop" and "basic", the latter writing the finished spans
// to the application log. The remaining elements are key=value options of
// the selected tracer.
func InitTracer(opts []string) (ot.Tracer, error) {
	if len(opts) == 0 {
		return nil, ErrMissingArguments
	}

	impl, opts := opts[0], opts[1:]
	switch impl {
	case "noop":
		return &ot.NoopTracer{}, nil
	case "basic":
		return initBasic(opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTracer, impl)
	}
}

func initBasic(opts []string) (ot.Tracer, error) {
	var (
		dropAllLogs    bool
		sampleModulo   uint64 = 1
		maxLogsPerSpan        = 0
		err            error
	)

	for _, o := range opts {
		k, v, _ := strings.Cut(o, "=")
		switch k {
		case "drop-all-logs":
			dropAllLogs = true

		case "sample-modulo":
			if v == "" {
				return nil, missingArg(k)
			}
			sampleModulo, err = strconv.ParseUint(v, 10, 64)
			if err != nil || sampleModulo == 0 {
				return nil, invalidArg(k, err)
			}

		case "max-logs-per-span":
			if v == "" {
				return nil, missingArg(k)
			}
			maxLogsPerSpan, err = strconv.Atoi(v)
			if err != nil {
				return nil, invalidArg(k, err)
			}
		}
	}

	return basic.NewWithOptions(basic.Options{
		DropAllLogs:    dropAllLogs,
		ShouldSample:   func(traceID uint64) bool { return traceID%sampleModulo == 0 },
		MaxLogsPerSpan: maxLogsPerSpan,
		Recorder:       logRecorder{},
	}), nil
}

func missingArg(opt string) error {
	return fmt.Errorf("missing argument for %s option", opt)
}

func invalidArg(opt string, err error) error {
	return fmt.Errorf("invalid argument for %s option: %v", opt, err)
}

type logRecorder struct{}

// RecordSpan writes the finished span to the application log, at debug
// level.
func (logRecorder) RecordSpan(span basic.RawSpan) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}

	f := log.Fields{
		"trace":     strconv.FormatUint(span.Context.TraceID, 16),
		"span":      strconv.FormatUint(span.Context.SpanID, 16),
		"operation": span.Operation,
		"duration":  span.Duration.String(),
	}

	if span.ParentSpanID != 0 {
		f["parent"] = strconv.FormatUint(span.ParentSpanID, 16)
	}

	for k, v := range span.Tags {
		f["tag."+k] = v
	}

	log.WithFields(f).Debug("span finished")
}

// CreateSpan starts a span as the child of the span found in ctx, or as a
// root span when there is none.
func CreateSpan(name string, ctx context.Context, tracer ot.Tracer) ot.Span {
	if tracer == nil {
		tracer = ot.GlobalTracer()
	}

	parent := ot.SpanFromContext(ctx)
	if parent == nil {
		return tracer.StartSpan(name)
	}

	return tracer.StartSpan(name, ot.ChildOf(parent.Context()))
}

// StartSpan starts a span with CreateSpan and returns it with a context
// carrying it.
func StartSpan(ctx context.Context, tracer ot.Tracer, name string) (ot.Span, context.Context) {
	span := CreateSpan(name, ctx, tracer)
	return span, ot.ContextWithSpan(ctx, span)
}
