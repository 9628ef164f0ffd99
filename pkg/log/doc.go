/*
Package log provides structured logging for anvil using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level.

# Usage

Initializing the Logger:

	import "github.com/cuemby/anvil/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component Loggers:

	engineLog := log.WithComponent("engine")
	engineLog.Info().Msg("evaluating key")

	gateLog := log.WithComponent("gate").With().Str("epoch", epoch).Logger()
	gateLog.Debug().Msg("admitting command")

Context Logger Helpers:

	log.WithKey(key.String()).Info().Msg("dependency equivalence check failed")
	log.WithPath(path).Info().Msg("materialization finished")
	log.WithVersion(int64(v)).Debug().Msg("version committed")

# Integration Points

This package is used by:

  - pkg/engine: logs the gate draining to Idle (debug only)
  - pkg/gate: logs entering and leaving the waiter queue (debug) and
    incompatible admissions under PolicyRun (warn) or PolicyError (error)
  - pkg/signalbus: logs consumer start/stop and the computed critical path
  - pkg/materializer: logs command-processor start/stop, discarded stale
    task completions (debug), cleanup and persistence failures, and TTL
    refresh results
  - pkg/materializer/sqlstore: logs the wipe on a schema mismatch

pkg/store does not log.

# Best Practices

Do:
  - Use Info level for production, Debug for development
  - Use structured fields (.Str, .Int, .Err) instead of string interpolation
  - Create component-specific loggers and pass them down explicitly where
    a type holds long-lived state (avoid relying on the global Logger from
    deep call chains in library code)

Don't:
  - Log key/path values at Info level in hot loops — use Debug
  - Block on log writes; buffer the output writer for high-volume sinks
*/
package log
