package resilience_test

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/provider/resilience"
)

func TestRegistry_RegisterAndSnapshot(t *testing.T) {
	registry := resilience.NewRegistry()

	cfgB := resilience.DefaultClientConfig("tiles")
	cfgB.Registry = registry
	resilience.NewClient(cfgB)

	cfgA := resilience.DefaultClientConfig("earthengine")
	cfgA.Registry = registry
	resilience.NewClient(cfgA)

	assert.Equal(t, 2, registry.Len())

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "earthengine", snapshot[0].Name)
	assert.Equal(t, "tiles", snapshot[1].Name)
	for _, h := range snapshot {
		assert.True(t, h.IsHealthy())
		assert.False(t, h.IsDegraded())
		assert.False(t, h.IsUnhealthy())
	}
}

func TestRegistry_GetHealthUnknown(t *testing.T) {
	registry := resilience.NewRegistry()
	assert.Nil(t, registry.GetHealth("missing"))
}

func TestRegistry_ReplaceKeepsHistory(t *testing.T) {
	registry := resilience.NewRegistry()

	cfg := resilience.DefaultClientConfig("earthengine")
	cfg.Registry = registry
	resilience.NewClient(cfg)

	registry.RecordFailure("earthengine", errors.New("deadline exceeded"))

	replacement := resilience.NewClient(cfg)
	assert.Equal(t, "earthengine", replacement.Name())
	assert.Equal(t, 1, registry.Len())

	health := registry.GetHealth("earthengine")
	require.NotNil(t, health)
	require.NotNil(t, health.LastFailureAt)
	assert.Equal(t, "deadline exceeded", health.LastError)
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()

	cfg := resilience.DefaultClientConfig("earthengine")
	cfg.Registry = registry
	resilience.NewClient(cfg)

	registry.Unregister("earthengine")

	assert.Equal(t, 0, registry.Len())
	assert.Nil(t, registry.GetHealth("earthengine"))
}

func TestRegistry_RecordOnUnknownIsIgnored(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.RecordSuccess("ghost")
	registry.RecordFailure("ghost", errors.New("x"))

	assert.Equal(t, 0, registry.Len())
}

func TestHealth_States(t *testing.T) {
	tests := []struct {
		state     gobreaker.State
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{gobreaker.StateClosed, true, false, false},
		{gobreaker.StateHalfOpen, false, true, false},
		{gobreaker.StateOpen, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := &resilience.Health{CircuitState: tt.state}
			assert.Equal(t, tt.healthy, h.IsHealthy())
			assert.Equal(t, tt.degraded, h.IsDegraded())
			assert.Equal(t, tt.unhealthy, h.IsUnhealthy())
		})
	}
}
