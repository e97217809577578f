/*
Package storage provides BoltDB-backed persistence for instance records.

The runtime is the source of truth for which containers exist; the store
keeps what the runtime cannot: the original display name, the world
parameters an instance was deployed with, the last provisioning error, and
soft-delete bookkeeping for instances whose data is retained after deletion.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <data>/minepanel.db                │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │  instances   (container ID → JSON record)   │          │
	│  └─────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────────┘

Reads run in db.View and may proceed concurrently; writes are serialized by
db.Update. A record whose status is deleted keeps its canonical name in the
bucket, but GetInstanceByName only returns live records, so a name can be
deployed again once its previous holder is deleted.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	inst, err := store.GetInstanceByName("mc-survival-mabar")
	if errors.Is(err, types.ErrNotFound) {
		// not deployed
	}
*/
package storage
