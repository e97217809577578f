/*
Package log provides structured logging for minepanel using zerolog.

# Configuration

A single global Logger is configured once by Init from the root command
flags, which every subcommand inherits:

	--log-level   debug | info | warn | error   MINEPANEL_LOG_LEVEL (info)
	--log-json    JSON lines, not console        MINEPANEL_LOG_JSON (false)

Unknown levels fall back to info. Init sets zerolog's global level, so child
loggers created before Init still honour it. Output defaults to stdout; tests
pass a buffer.

# Component Loggers

Packages derive child loggers with WithComponent once, usually in their
constructor, and add the instance they act on with WithInstance:

	logger := log.WithComponent("deploy")
	log.WithInstance(logger, "mc-survival-mabar").Info().
		Int("host_port", 19132).
		Int("host_port_v6", 19133).
		Msg("Deploy accepted")

Component names in use: api, console, deploy, manager, reconciler, runtime,
serve, session, world.

# Field Conventions

	component      package that logged the event
	instance       canonical name of the instance acted on
	container_id   runtime container ID
	session_id     operator session (audit lines)
	operator       operator username (audit lines)
	error          err via .Err(err)

Messages describe what happened ("Deploy accepted", "Failed to adopt
container"). Secrets, password hashes and tokens are never logged.

# Output Examples

Console format:

	2026-10-17T10:00:00Z INF Deploy accepted component=deploy host_port=19132 instance=mc-survival

JSON format:

	{"level":"info","component":"deploy","instance":"mc-survival","host_port":19132,"time":"2026-10-17T10:00:00Z","message":"Deploy accepted"}
*/
package log
