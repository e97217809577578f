/*
Package manager is the single entry point for every instance operation.

The Manager owns the instance store, the data directories, the event broker
and the provisioning pipeline, and exposes them as one facade to the HTTP API,
the reconciler and the CLI.

# Architecture

	┌──────────────────────── MANAGER ─────────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐         │
	│  │         HTTP API / reconciler / CLI           │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │              Manager                          │         │
	│  │  - Deploy: hands off to deploy.Deployer       │         │
	│  │  - Action: start, stop, restart, delete       │         │
	│  │  - World export/import, server.properties     │         │
	│  │  - SweepDeleted: retention of deleted data    │         │
	│  └───────┬───────────────┬──────────────┬───────┘         │
	│          │               │              │                  │
	│  ┌───────▼──────┐ ┌──────▼──────┐ ┌─────▼───────┐         │
	│  │   BoltDB     │ │   Runtime   │ │  Broker     │         │
	│  │  records     │ │ (containerd)│ │  events     │         │
	│  └──────────────┘ └─────────────┘ └─────────────┘         │
	└────────────────────────────────────────────────────────────┘

# Source of truth

The runtime decides which instances exist and what state they are in. The
store adds what labels cannot carry: world parameters, error reasons and the
soft-delete bookkeeping. ListInstances merges both, and an instance whose
deploy is still in flight keeps reporting creating even once its container
appears.

# Lifecycle locking

Actions, world transfers and property edits on the same instance are
serialized by a per-instance mutex. An instance that is still provisioning
rejects actions with types.ErrInstanceBusy. World export and import require a
stopped instance and fail with types.ErrInstanceRunning otherwise.

# Deletion

Delete removes the container and moves the data directory to
instances/.deleted/<name>.<unixnano>. The record is kept with status deleted
so the name and ports are free again, and SweepDeleted purges both once the
retention period has passed.

	 1. status → deleting
	 2. Remove container            failure: status error, retry possible
	 3. SoftDelete data directory   failure: status error, data in place,
	                                name stays taken until a retry succeeds
	 4. status → deleted, RetainedDir recorded
	 5. instance.deleted published

A delete whose data could not be moved aside never frees the name: a new
deploy under that name would otherwise bind mount the old directory.
*/
package manager
