package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"github.com/zfogg/sidechain/lazyload/internal/lazyload"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestRuntime_TracerProviderIsNilInterfaceWhenOff(t *testing.T) {
	rt := &Runtime{}
	// a typed nil inside the interface would still compare non-nil
	assert.True(t, rt.TracerProvider() == nil)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	rt.Tracer = tp
	assert.Same(t, tp, rt.TracerProvider())
}

func TestBuild_Defaults(t *testing.T) {
	require.NoError(t, config.Init(filepath.Join(t.TempDir(), "config.toml")))
	config.Set("history.driver", "none")
	cfg := config.Load()

	rt, err := Build(context.Background(), cfg, ModeServer)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(context.Background()) })

	assert.Nil(t, rt.Tracer)
	assert.True(t, rt.TracerProvider() == nil)
	assert.Nil(t, rt.History)
	assert.IsType(t, &lazyload.MemorySet{}, rt.Loaded)

	l := lazyload.New(rt.Fetcher, rt.LoaderOptions(nil)...)
	defer l.Close()
	assert.Equal(t, cfg.Loader.MaxConcurrent, l.Stats().MaxActive)
}

func TestBuild_UnknownCacheBackend(t *testing.T) {
	require.NoError(t, config.Init(filepath.Join(t.TempDir(), "config.toml")))
	config.Set("history.driver", "none")
	config.Set("cache.backend", "memcached")

	_, err := Build(context.Background(), config.Load(), ModeCLI)
	assert.ErrorContains(t, err, `unknown cache backend "memcached"`)
}
