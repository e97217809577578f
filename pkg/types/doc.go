/*
Package types defines the data model and error taxonomy shared by every
minepanel package.

# Instances

An Instance is one managed game server: a containerd container named with the
mc- prefix, two host ports (IPv4 chosen by the operator, IPv6 assigned by the
panel), a memory limit and a data directory holding its worlds and
server.properties.

	Instance
	├── ID             container ID and record key (uuid)
	├── Name           display name as typed
	├── CanonicalName  "mc-" + lowercase, whitespace runs → "-"
	├── Status         lifecycle state below
	├── HostPort       IPv4 UDP port
	├── HostPortV6     IPv6 UDP port
	├── MemoryMB       hard memory limit
	├── World          seed, mode, difficulty, level type, switches
	├── DataDir        bind mounted at /data
	├── RetainedDir    set once the data was moved aside on delete
	└── Error          reason of the last failure

CanonicalName derives the managed name from what the operator typed:
"Survival Mabar" becomes "mc-survival-mabar". DisplayName strips the prefix.

# Lifecycle

	creating → running ⇄ stopped
	    ↓         ↓ ↑
	  error   restarting
	              ↓
	  any → deleting → deleted

Every status except deleted is live: a live record owns its canonical name
and its ports. Deleted records stay in the store as history.

World switches (AllowCheats, OnlineMode) are pointers. A nil switch means the
operator did not choose, and the image default applies.

# Errors

Failures are reported with the sentinel errors in errors.go, wrapped with
context via fmt.Errorf("...: %w", err) and matched with errors.Is. The HTTP
API maps each sentinel onto a status code:

	ErrValidation           400  validation
	ErrPortConflict         409  port_conflict
	ErrAlreadyExists        409  already_exists
	ErrInstanceRunning      409  instance_running
	ErrInstanceBusy         409  instance_busy
	ErrUnauthenticated      401  unauthenticated
	ErrSessionExpired       401  session_expired
	ErrSessionSuperseded    401  session_superseded
	ErrNotFound             404  not_found
	ErrWorldNotFound        404  world_not_found
	ErrRuntimeUnavailable   503  runtime_unavailable
	ErrPathTraversal        422  path_traversal
	ErrCorruptArchive       422  corrupt_archive

The archive errors wrap ErrArchive, so errors.Is(err, ErrArchive) matches any
of them. Validationf builds an ErrValidation with a formatted reason.

# Usage Examples

	if err := d.ports.Claim(port, name); err != nil {
		return fmt.Errorf("deploy %s: %w", name, err)
	}

	switch {
	case errors.Is(err, types.ErrPortConflict):
		// offer another port
	case types.IsAuthError(err):
		// back to the login page
	}
*/
package types
