package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/anvil/pkg/gate"
	"github.com/cuemby/anvil/pkg/signalbus"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.False(t, cfg.DetectCycles)
	require.Equal(t, gate.PolicyError, cfg.NestedPolicy)
	require.Equal(t, gate.PolicyBlock, cfg.ParallelPolicy)
	require.Equal(t, signalbus.ModeSimple, cfg.CriticalPathMode)
	require.Equal(t, 4, cfg.Workers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ANVIL_WORKERS", "16")
	t.Setenv("ANVIL_CRITICAL_PATH_MODE", "longest-path")
	t.Setenv("ANVIL_NESTED_POLICY", "run")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 16, cfg.Workers)
	require.Equal(t, signalbus.ModeLongestPath, cfg.CriticalPathMode)
	require.Equal(t, gate.PolicyRun, cfg.NestedPolicy)
}

func TestLoadRejectsUnknownPolicy(t *testing.T) {
	t.Setenv("ANVIL_NESTED_POLICY", "bogus")
	_, err := Load("")
	require.Error(t, err)
}
