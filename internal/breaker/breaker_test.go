package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"autosint/internal/config"
)

func testCfg() config.BreakerConfig {
	return config.BreakerConfig{FailureThreshold: 2, CooldownSeconds: 0}
}

func TestRegistryGetKnownDependency(t *testing.T) {
	r := New(testCfg())
	require.NotNil(t, r.Get(Graph))
}

func TestRegistryGetUnknownDependencyPanics(t *testing.T) {
	r := New(testCfg())
	require.Panics(t, func() { r.Get("unknown") })
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	r := New(testCfg())
	b := r.Get(Store)

	fail := func() (any, error) { return nil, errors.New("boom") }
	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)

	require.True(t, b.Open())
	name, open := r.AnyHardOpen()
	require.True(t, open)
	require.Equal(t, Store, name)
}

func TestFetcherOpenDoesNotCountAsHardOpen(t *testing.T) {
	r := New(testCfg())
	b := r.Get(Fetcher)
	fail := func() (any, error) { return nil, errors.New("boom") }
	_, _ = b.Execute(fail)
	_, _ = b.Execute(fail)
	require.True(t, b.Open())

	_, open := r.AnyHardOpen()
	require.False(t, open)
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	cfg := config.BreakerConfig{FailureThreshold: 1, CooldownSeconds: 1}
	r := New(cfg)
	b := r.Get(ChatAPI)

	_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })
	require.True(t, b.Open())

	time.Sleep(1100 * time.Millisecond)
	result, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.False(t, b.Open())
}
