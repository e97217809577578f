/*
Package api implements the minepanel HTTP API.

The API is the only surface operators and the web frontend talk to. It is a
chi router serving JSON over HTTP plus two WebSocket streams.

# Routes

	POST /api/auth/login                 issue a session token
	POST /api/auth/logout                revoke the caller's session
	GET  /api/settings                   session policy
	PUT  /api/settings                   update policy, password, signing secret
	GET  /api/servers                    list live instances
	POST /api/servers                    deploy (202, progress on /api/events)
	GET  /api/servers/{id}               one instance, by ID or name
	DELETE /api/servers/{id}             delete, retaining data
	POST /api/servers/{id}/{action}      start, stop, restart, delete
	GET  /api/servers/{id}/properties    server.properties as JSON
	PUT  /api/servers/{id}/properties    merge keys into server.properties
	GET  /api/servers/{id}/world         world archive download (zip)
	POST /api/servers/{id}/world         world archive upload (multipart "world")
	GET  /api/events?topic=              WebSocket, JSON events
	GET  /api/servers/{id}/console       WebSocket, console lines and commands
	GET  /health, /ready, /metrics

# Authentication

Every /api route except login requires a session token, sent as
"Authorization: Bearer <token>" or, for WebSockets, as the token query
parameter. Login attempts are rate limited per client address.

# Audit Trail

Every successful mutating request logs one audit line on the api component
with the action, its target, and the operator and session taken from the
authenticated identity:

	update_settings    deploy    start | stop | restart | delete
	update_properties  import_world

# Settings

PUT /api/settings validates before anything is stored: timeout_minutes must
be at least 1 and default_memory_mb must not be negative. Changing the
password rotates the signing secret, which signs every browser out.

# Errors

Errors are JSON objects with an error message and a machine readable code.
Sentinel errors from pkg/types map onto status codes:

	ErrValidation                          400 validation
	ErrUnauthenticated                     401 unauthenticated
	ErrSessionExpired                      401 session_expired
	ErrSessionSuperseded                   401 session_superseded
	ErrNotFound, ErrWorldNotFound          404
	ErrPortConflict, ErrAlreadyExists      409
	ErrInstanceRunning, ErrInstanceBusy    409
	ErrArchive and its children            422
	ErrRuntimeUnavailable                  503
*/
package api
