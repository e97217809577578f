/*
Package world exports and imports the world directory of an instance as a zip
archive.

A Bedrock server keeps every level under <data-dir>/worlds. Operators move
levels between panels, take offline backups, or seed a new instance with an
existing map; this package is the only code that reads or replaces that
directory.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                     manager.Manager                          │
	│   ExportWorld                         ImportWorld (stopped)  │
	└────────┬──────────────────────────────────────┬──────────────┘
	         │ WriteArchive                         │ Import
	         ▼                                      ▼
	┌──────────────────────────────────────────────────────────────┐
	│                           Service                            │
	│  • Streams worlds/ into a zip writer (klauspost flate)       │
	│  • Validates every entry before touching the disk            │
	│  • Extracts into a staging directory, then swaps             │
	└────────┬─────────────────────────────────────────────────────┘
	         │ Dirs (Path, WorldsPath, Exists)
	         ▼
	┌──────────────────────────────────────────────────────────────┐
	│                  volume.LocalDriver                          │
	│  <instances-root>/<canonical>/worlds                         │
	└──────────────────────────────────────────────────────────────┘

# Export

Export walks worlds/ and writes one entry per file and directory, names
relative to worlds/ with forward slashes. Deflate uses the klauspost/compress
implementation registered on the zip writer. WriteArchive streams into any
io.Writer; Export is the in-memory form.

An instance whose worlds/ does not exist yet (a server that never started)
fails with ErrWorldNotFound.

# Import Lifecycle

	 1. OPEN
	    ├── zip.NewReader over the uploaded bytes
	    ├── Unreadable archive              → ErrCorruptArchive
	    └── Deflate bound to klauspost flate
	 2. VALIDATE (nothing written yet)
	    ├── Absolute or ".." names          → ErrPathTraversal
	    ├── Symbolic links                  → ErrPathTraversal
	    ├── Devices, pipes, sockets         → ErrCorruptArchive
	    ├── Running size > max uncompressed → ErrCorruptArchive
	    ├── Single "worlds/" root stripped
	    └── Path used as file and directory → ErrCorruptArchive
	 3. EXTRACT
	    ├── MkdirTemp(<data-dir>, ".worlds-import-")
	    └── Each entry written below the staging root
	 4. SWAP
	    ├── worlds/ renamed to worlds.old-<unixnano>
	    ├── staging renamed to worlds/
	    ├── Failure: old tree renamed back
	    └── Success: old tree removed

A failed import leaves the previous world untouched; the staging directory
is always removed.

# Limits

DefaultMaxUncompressed (4 GiB) bounds the declared uncompressed size of all
entries together. Extraction reads at most one byte past each declared size
and rejects a mismatch, so an entry that lies about its size cannot exceed
the bound either. SetMaxUncompressed changes the bound; zero disables it.

# Usage Examples

	svc := world.NewService(volumes)

	var buf bytes.Buffer
	if err := svc.WriteArchive("mc-survival", &buf); err != nil {
		return err
	}

	switch err := svc.Import("mc-survival", data); {
	case errors.Is(err, types.ErrPathTraversal), errors.Is(err, types.ErrCorruptArchive):
		// 422
	case errors.Is(err, types.ErrNotFound):
		// 404
	}

Import does not stop the instance. manager.ImportWorld refuses a running
instance, since the server holds its level files open.

# Thread Safety

Service is safe for concurrent use across instances. Two imports into the
same instance race on the final rename; the manager serializes them under
its per-instance lock.
*/
package world
