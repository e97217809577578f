/*
Package console relays live server output to operators and forwards their
commands into running instances.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│            api console WebSocket (one per browser tab)       │
	│  reader: {"command": "..."}        writer: Line as JSON      │
	└────────┬───────────────────────────────────────┬─────────────┘
	         │ SendCommand                           │ Attach
	         ▼                                       ▼
	┌──────────────────────────────────────────────────────────────┐
	│                           Relay                              │
	│  • One upstream output stream per attached observer          │
	│  • Session registry: cancel funcs + WaitGroup                │
	│  • Synthetic lines for echoes and failures                   │
	└────────┬───────────────────────────────────────┬─────────────┘
	         │ Inspect + Exec                        │ AttachOutput
	         ▼                                       ▼
	┌──────────────────────────────────────────────────────────────┐
	│                     runtime.Runtime                          │
	│  Exec: send-command <text>     AttachOutput: nxadm/tail log  │
	└──────────────────────────────────────────────────────────────┘

Every observer gets its own stream from the current end of the server log,
so a slow browser never holds back another one and no history is replayed.

# Lines

	{"line": "[INFO] Server started."}
	{"line": "> say hi", "synthetic": true}
	{"line": "Server Survival is not running", "error": true, "synthetic": true}

Output is split on newlines; a line longer than 64 KiB is cut into several.
Synthetic lines are produced by the relay itself, never by the server.

# Command Flow

	 1. Trim; empty or multi-line text  → ErrValidation
	 2. Inspect the instance
	    ├── Not found                   → error line
	    └── Not running                 → "Server X is not running"
	 3. Echo "> text" to the observer
	 4. Exec the console command with text as its argument
	    ├── Failure                     → "Command failed: ..."
	    └── Output lines, in order
	 5. minepanel_console_commands_total{result} incremented

# Session Lifecycle

Attach registers the session, then reads until the context is cancelled, the
stream ends, or the sink returns an error (the observer went away). Close
cancels every session and waits for them to return; Attach after Close
fails with ErrRelayClosed. minepanel_console_sessions tracks the number of
attached observers.

# Usage Examples

	relay := console.NewRelay(rt)
	defer relay.Close()

	sink := func(l console.Line) error { return conn.WriteJSON(l) }
	go relay.Attach(ctx, inst.ID, sink)

	_ = relay.SendCommand(ctx, inst.ID, "list", sink)

# Thread Safety

Relay is safe for concurrent use. A Sink may be called from the Attach
goroutine and from SendCommand at the same time; the caller serializes writes
to its connection.
*/
package console
