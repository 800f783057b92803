package meterz

import (
	"context"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitInstallsTarget(t *testing.T) {
	rec := newRecorder(LevelAll)
	m := Init(rec, String("service", "api"))
	defer Init(nil)

	assert.Same(t, m, Default().Current())
	assert.Nil(t, m.Span())

	require.NoError(t, Do(context.Background(), "job", func(ctx context.Context) error {
		Info(ctx, "working")
		return nil
	}))

	logs := rec.all("log")
	require.Len(t, logs, 1)
	assert.True(t, logs[0].tags.Has("service"))
	assert.Len(t, rec.all("finish"), 1)
}

func TestFlushRunsInReverseOrder(t *testing.T) {
	RemoveAllFlushHandlers()
	defer RemoveAllFlushHandlers()

	var order []string
	AddFlushHandler(func() { order = append(order, "first") })
	second := AddFlushHandler(func() { order = append(order, "second") })
	AddFlushHandler(func() { order = append(order, "third") })

	Flush()
	assert.Equal(t, []string{"third", "second", "first"}, order)

	order = nil
	RemoveFlushHandler(second)
	Flush()
	assert.Equal(t, []string{"third", "first"}, order)

	assert.Equal(t, uint64(0), AddFlushHandler(nil))
}

func TestFlushSurvivesPanickingHandler(t *testing.T) {
	RemoveAllFlushHandlers()
	defer RemoveAllFlushHandlers()

	core, logs := observer.New(zap.ErrorLevel)
	SetDiagnosticLogger(zap.New(core))
	defer SetDiagnosticLogger(nil)

	ran := false
	AddFlushHandler(func() { ran = true })
	AddFlushHandler(func() { panic("flush failed") })

	assert.NotPanics(t, Flush)
	assert.True(t, ran)
	assert.Equal(t, 1, logs.FilterMessage("flush handler panicked").Len())
}

func TestEnvTags(t *testing.T) {
	t.Setenv("HOSTNAME", "box-1")
	t.Setenv("METERZ_TAG_DEPLOYMENT_ENVIRONMENT", "staging")
	t.Setenv("METERZ_TAG_", "ignored")

	tags := EnvTags()

	get := func(key string) string {
		v, ok := tags.Get(key)
		require.True(t, ok, key)
		return v.AsString()
	}
	assert.Equal(t, "box-1", get("host.name"))
	assert.Equal(t, "staging", get("deployment.environment"))
	assert.Equal(t, "go", get("process.runtime.name"))
	assert.Equal(t, runtime.Version(), get("process.runtime.version"))
	assert.Equal(t, runtime.GOOS, get("os.type"))
	assert.Equal(t, runtime.GOARCH, get("host.arch"))

	_, err := uuid.Parse(get("service.instance.id"))
	assert.NoError(t, err)
	assert.False(t, tags.Has(""))
}
