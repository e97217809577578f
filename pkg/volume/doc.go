/*
Package volume manages the host data directories of game-server instances.

Each instance owns <instances-root>/<canonical>, bind mounted into its
container at /data. The worlds subtree is what the world archive exports and
replaces; server.properties sits beside it.

# Directory Layout

	<data-dir>/instances/
	├── mc-survival/                 live instance
	│   ├── server.properties
	│   └── worlds/
	│       └── Bedrock level/
	├── mc-creative/
	└── .deleted/
	    ├── mc-lobby.1760000000000000000
	    └── mc-survival.1760500000000000000

Canonical names always start with "mc-", so they cannot collide with the
.deleted directory. validName rejects empty names, names containing a path
separator and names starting with a dot.

# Instance Data Lifecycle

	 1. ENSURE
	    ├── Deploy: Ensure(canonical)
	    └── MkdirAll(<canonical>/worlds, 0755)
	 2. MOUNT
	    └── Runtime bind mounts Path(canonical) at /data
	 3. SOFT DELETE
	    ├── Manager: instance deleted
	    ├── Rename to .deleted/<canonical>.<unixnano>
	    ├── Nothing to move: "" returned, no error
	    └── Failure: error returned, manager keeps the record
	 4. SWEEP
	    ├── Reconciler: at most once an hour
	    ├── CLI: minepanel sweep
	    └── RemoveAll on entries deleted more than the retention ago

Deleting an instance does not destroy its data right away. The rename frees
the canonical name for reuse while the old data stays recoverable until the
sweep. Retained lists entries in deletion order; entries whose suffix is not
a timestamp are ignored by both Retained and Sweep.

# Usage Examples

	volumes, err := volume.NewLocalDriver(filepath.Join(dataDir, "instances"))
	if err != nil {
		return err
	}

	dir, err := volumes.Ensure("mc-survival")

	retained, err := volumes.SoftDelete("mc-survival", time.Now())

	removed, err := volumes.Sweep(7*24*time.Hour, time.Now())

# Thread Safety

LocalDriver holds no state besides its base path. Callers serialize
operations on the same instance; the manager does so with its per-instance
lock.
*/
package volume
