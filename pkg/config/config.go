// Package config loads the Engine's configuration tuple and the process's
// environment-variable knobs through viper, following the
// viper.New()+AutomaticEnv()+BindEnv pattern used elsewhere in the
// examined corpus for config-plus-env-override.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/cuemby/anvil/pkg/gate"
	"github.com/cuemby/anvil/pkg/signalbus"
)

// Config is anvil's process-wide tunable surface: the Engine's policy
// tuple plus the environment-variable knobs for worker pool sizing,
// critical-path mode, and the forced-termination timer.
type Config struct {
	// DetectCycles enables per-task chain cycle detection in the Engine.
	DetectCycles bool
	// NestedPolicy governs a concurrency-gate invocation made from inside
	// the transaction that already holds the gate.
	NestedPolicy gate.Policy
	// ParallelPolicy governs a concurrency-gate invocation made while a
	// different transaction is active.
	ParallelPolicy gate.Policy

	// Workers is the loaded worker-count setting. No package in this
	// module reads it; the Engine has no worker pool to size.
	Workers int
	// BlockingWorkers is the loaded blocking-worker-count setting. No
	// package in this module reads it.
	BlockingWorkers int
	// CriticalPathMode selects the SignalBus's bookkeeping mode.
	CriticalPathMode signalbus.Mode
	// ForceTerminateSeconds is the loaded forced-termination setting. No
	// package in this module reads it; Eval and the gate apply no timeout.
	ForceTerminateSeconds int
}

const (
	keyDetectCycles         = "detect_cycles"
	keyNestedPolicy         = "nested_policy"
	keyParallelPolicy       = "parallel_policy"
	keyWorkers              = "workers"
	keyBlockingWorkers      = "blocking_workers"
	keyCriticalPathMode     = "critical_path_mode"
	keyForceTerminateSeconds = "force_terminate_seconds"
)

// defaults mirror OPEN QUESTION DECISION #3: nested gate invocations
// soft-deny by default, and the worker counts default to 4 and 2 blocking
// unless overridden.
func defaults() map[string]any {
	return map[string]any{
		keyDetectCycles:         false,
		keyNestedPolicy:         "error",
		keyParallelPolicy:       "block",
		keyWorkers:              4,
		keyBlockingWorkers:      2,
		keyCriticalPathMode:     "simple",
		keyForceTerminateSeconds: 0,
	}
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// an optional config file at configFile (skipped if configFile is empty;
// a named file that cannot be read is an error), and
// environment variables under the ANVIL_ prefix
// (ANVIL_WORKERS, ANVIL_BLOCKING_WORKERS, ANVIL_CRITICAL_PATH_MODE,
// ANVIL_FORCE_TERMINATE_SECONDS, plus ANVIL_DETECT_CYCLES,
// ANVIL_NESTED_POLICY, ANVIL_PARALLEL_POLICY).
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, val := range defaults() {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("anvil")
	v.AutomaticEnv()
	for _, key := range []string{
		keyDetectCycles, keyNestedPolicy, keyParallelPolicy,
		keyWorkers, keyBlockingWorkers, keyCriticalPathMode, keyForceTerminateSeconds,
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("config: bind env %q: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	nested, err := parsePolicy(v.GetString(keyNestedPolicy))
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", keyNestedPolicy, err)
	}
	parallel, err := parsePolicy(v.GetString(keyParallelPolicy))
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", keyParallelPolicy, err)
	}
	mode, err := parseCriticalPathMode(v.GetString(keyCriticalPathMode))
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", keyCriticalPathMode, err)
	}

	return Config{
		DetectCycles:          v.GetBool(keyDetectCycles),
		NestedPolicy:          nested,
		ParallelPolicy:        parallel,
		Workers:               v.GetInt(keyWorkers),
		BlockingWorkers:       v.GetInt(keyBlockingWorkers),
		CriticalPathMode:      mode,
		ForceTerminateSeconds: v.GetInt(keyForceTerminateSeconds),
	}, nil
}

func parsePolicy(s string) (gate.Policy, error) {
	switch s {
	case "block":
		return gate.PolicyBlock, nil
	case "run":
		return gate.PolicyRun, nil
	case "error":
		return gate.PolicyError, nil
	default:
		return 0, fmt.Errorf("unrecognized policy %q (want block|run|error)", s)
	}
}

func parseCriticalPathMode(s string) (signalbus.Mode, error) {
	switch s {
	case "simple":
		return signalbus.ModeSimple, nil
	case "longest-path":
		return signalbus.ModeLongestPath, nil
	default:
		return 0, fmt.Errorf("unrecognized critical path mode %q (want simple|longest-path)", s)
	}
}
