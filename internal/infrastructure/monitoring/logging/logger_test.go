package logging

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func newObservedLogger() (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &zapLogger{z: zap.New(core)}, logs
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger(LogConfig{Level: LevelDebug, Format: format, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_EmptyOutputPathsRejected(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestZapLogger_FieldsAreEncoded(t *testing.T) {
	l, logs := newObservedLogger()

	l.Info("document annotated",
		String("document_id", "doc-1"),
		Int("annotations", 12),
		Duration("took", 15*time.Millisecond),
		Strings("categories", []string{"Gene", "Disease"}),
		Bool("degraded", false),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "doc-1", ctx["document_id"])
	assert.EqualValues(t, 12, ctx["annotations"])
	assert.Equal(t, 15*time.Millisecond, ctx["took"])
	assert.Equal(t, false, ctx["degraded"])
}

func TestZapLogger_ErrAndCode(t *testing.T) {
	l, logs := newObservedLogger()

	ae := errors.New(errors.CodeDictionaryUnavailable, "store missing")
	l.Warn("category degraded", Err(ae), Code(ae))
	l.Warn("nil error", Err(nil), Code(stderrors.New("plain")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ANNOT_001", entries[0].ContextMap()["code"])
	assert.Contains(t, entries[0].ContextMap()["error"], "store missing")
	assert.Equal(t, "<nil>", entries[1].ContextMap()["error"])
	assert.Equal(t, "UNKNOWN", entries[1].ContextMap()["code"])
}

func TestZapLogger_WithAndNamed(t *testing.T) {
	l, logs := newObservedLogger()

	child := l.Named("pipeline").With(String("document_id", "doc-9"))
	child.Debug("tokenized")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "pipeline", entry.LoggerName)
	assert.Equal(t, "doc-9", entry.ContextMap()["document_id"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x")
		l.With(String("a", "b")).Named("n").Info("x")
	})
}

func TestDefault(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	l, _ := newObservedLogger()
	SetDefault(nil)
	assert.Equal(t, original, Default())
	SetDefault(l)
	assert.Equal(t, l, Default())
}
