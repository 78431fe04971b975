/*
Package log provides structured logging for firekit using zerolog.

The package wraps zerolog to give every internal component — the client
pool, request layer, transaction engine, watch engine, and bulk writer —
a consistent JSON (or console) structured logger, with component- and
subject-scoped child loggers for tracing a single Watch target or
transaction across its lifetime.

# Usage

Initializing the logger:

	import "github.com/cuemby/firekit/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Component loggers:

	poolLog := log.WithComponent("pool")
	poolLog.Debug().Int("in_flight", 7).Msg("leased channel")

Context loggers, for following one subscription or transaction:

	targetLog := log.WithTarget(targetID)
	targetLog.Info().Msg("reconnecting after stream error")

	txnLog := log.WithTxnID(string(txnID))
	txnLog.Debug().Int("attempt", attempt).Msg("retrying transaction")

# Log levels

  - Debug: per-RPC retry/backoff detail, watch reconnect/resume decisions.
  - Info: client construction, emulator/GCF mode detection, termination.
  - Warn: existence-filter mismatches forcing a full resync, emulator use.
  - Error: unrecoverable RPC/stream failures surfaced to the caller.
  - Fatal: unused by this package; firekit is a library and never exits
    the host process on its own.

# Design

A single package-level Logger is initialized once via Init and read by
every component through With* helpers, so no logger needs to be threaded
through constructors. Component loggers (WithComponent) identify which
layer emitted a line; subject loggers (WithTarget, WithTxnID) identify
which Watch target or transaction attempt it belongs to, which matters
once several subscriptions or retrying transactions are in flight at
once.
*/
package log
