/*
Package config owns the durable panel configuration: the operator credential,
the session policy and the token signing secret.

Everything lives in one YAML document, <data-dir>/config.yaml, readable only
by the panel user (0600). The document is small and rarely written, so the
Store keeps it in memory and rewrites the whole file on every change.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                        Callers                               │
	│  session.Manager   api settings   minepanel passwd           │
	└────────┬──────────────────────────────────┬──────────────────┘
	         │ Snapshot / CheckPassword          │ Update
	         ▼                                   ▼
	┌──────────────────────────────────────────────────────────────┐
	│                          Store                               │
	│  • RWMutex over the in-memory Document                       │
	│  • bcrypt hashing at a configurable cost                     │
	│  • Atomic replace of config.yaml (temp, fsync, rename)       │
	└────────┬─────────────────────────────────────────────────────┘
	         │ gopkg.in/yaml.v3
	         ▼
	  <data-dir>/config.yaml

# Document Layout

	admin:
	  username: admin
	  password_hash: $2a$10$...
	session:
	  timeout_minutes: 15
	  single_session: false
	  default_memory_mb: 2048
	signing_secret: 64 hex characters

# Open Lifecycle

	 1. MkdirAll(data-dir, 0700)
	 2. READ config.yaml
	    ├── Missing: defaults written (admin/admin, 15 minutes, 2048 MB,
	    │            fresh signing secret)
	    ├── Unreadable or not YAML: error, panel refuses to start
	    └── Present without a signing secret: one is generated and saved
	 3. Store ready; Snapshot never touches the disk again

The default password is meant to be changed on first login; minepanel
passwd resets it when the operator is locked out.

# Updates

Update hands fn a copy of the document. The copy is persisted first and only
replaces the in-memory document once the write succeeded, so a failed write
(full disk, read-only mount) leaves the running panel and the file in the
same state. Validation belongs to the caller: fn returns an error to abort.

WriteFileAtomic is shared with the properties editor. The temp file sits in
the target directory so the final rename never crosses filesystems.

# Usage Examples

	store, err := config.Open(dataDir)
	if err != nil {
		return err
	}

	err = store.Update(func(d *config.Document) error {
		d.Session.SingleSession = true
		return nil
	})

	// tests trade hash strength for speed
	store, _ := config.Open(t.TempDir(), config.WithBcryptCost(bcrypt.MinCost))

# Thread Safety

Store is safe for concurrent use. Update holds the write lock across the file
write, so concurrent updates are applied one after another.
*/
package config
