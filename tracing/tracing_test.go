package tracing

import (
	"context"
	"errors"
	"testing"

	ot "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracer(t *testing.T) {
	_, err := InitTracer(nil)
	assert.ErrorIs(t, err, ErrMissingArguments)

	_, err = InitTracer([]string{"lightstep"})
	assert.True(t, errors.Is(err, ErrUnsupportedTracer))

	tr, err := InitTracer([]string{"noop"})
	require.NoError(t, err)
	assert.IsType(t, &ot.NoopTracer{}, tr)

	_, err = InitTracer([]string{"basic", "sample-modulo=0"})
	assert.Error(t, err)

	_, err = InitTracer([]string{"basic", "max-logs-per-span"})
	assert.Error(t, err)

	tr, err = InitTracer([]string{"basic", "sample-modulo=1", "max-logs-per-span=5"})
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestBasicTracerLogsSpans(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	level := log.GetLevel()
	log.SetLevel(log.DebugLevel)
	defer log.SetLevel(level)

	tr, err := InitTracer([]string{"basic"})
	require.NoError(t, err)

	span := tr.StartSpan("resolve")
	span.SetTag(RouteKindTag, "block")
	span.Finish()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "span finished", entry.Message)
	assert.Equal(t, "resolve", entry.Data["operation"])
	assert.Equal(t, "block", entry.Data["tag."+RouteKindTag])
}

func TestCreateSpanChildOfContext(t *testing.T) {
	tracer := mocktracer.New()
	parent := tracer.StartSpan("ingress")
	ctx := ot.ContextWithSpan(context.Background(), parent)

	child, childCtx := StartSpan(ctx, tracer, "endpoint")
	child.Finish()
	parent.Finish()

	assert.Same(t, child, ot.SpanFromContext(childCtx))

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "endpoint", spans[0].OperationName)
	assert.Equal(t, spans[1].SpanContext.SpanID, spans[0].ParentID)

	root := CreateSpan("root", context.Background(), tracer)
	root.Finish()
	assert.Equal(t, 0, tracer.FinishedSpans()[2].ParentID)
}
