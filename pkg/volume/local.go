package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// WorldsDir is the world subtree inside an instance data directory
	WorldsDir = "worlds"

	// trashDir holds soft-deleted instance directories until they are swept
	trashDir = ".deleted"
)

// LocalDriver manages per-instance data directories under a base path
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a new local driver rooted at basePath
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		return nil, fmt.Errorf("volume base path is required")
	}

	// Ensure base directory exists
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create instances directory: %w", err)
	}

	return &LocalDriver{
		basePath: basePath,
	}, nil
}

// BasePath returns the root of all instance directories
func (d *LocalDriver) BasePath() string {
	return d.basePath
}

// Path returns the data directory of an instance
func (d *LocalDriver) Path(canonical string) string {
	return filepath.Join(d.basePath, canonical)
}

// WorldsPath returns the world directory of an instance
func (d *LocalDriver) WorldsPath(canonical string) string {
	return filepath.Join(d.Path(canonical), WorldsDir)
}

// Ensure creates the data directory of an instance and returns its path
func (d *LocalDriver) Ensure(canonical string) (string, error) {
	if err := validName(canonical); err != nil {
		return "", err
	}

	path := d.Path(canonical)
	if err := os.MkdirAll(filepath.Join(path, WorldsDir), 0755); err != nil {
		return "", fmt.Errorf("failed to create instance directory: %w", err)
	}
	return path, nil
}

// Exists reports whether the data directory of an instance exists
func (d *LocalDriver) Exists(canonical string) bool {
	info, err := os.Stat(d.Path(canonical))
	return err == nil && info.IsDir()
}

// SoftDelete moves an instance directory aside so the name can be reused
// while the data is retained until Sweep. It returns the retained path, or
// "" when there was nothing to retain.
func (d *LocalDriver) SoftDelete(canonical string, now time.Time) (string, error) {
	if err := validName(canonical); err != nil {
		return "", err
	}

	src := d.Path(canonical)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", nil
	}

	trash := filepath.Join(d.basePath, trashDir)
	if err := os.MkdirAll(trash, 0755); err != nil {
		return "", fmt.Errorf("failed to create retention directory: %w", err)
	}

	dst := filepath.Join(trash, fmt.Sprintf("%s.%d", canonical, now.UnixNano()))
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to retain instance directory: %w", err)
	}
	return dst, nil
}

// Retained lists the soft-deleted directories in deletion order
func (d *LocalDriver) Retained() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.basePath, trashDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read retention directory: %w", err)
	}

	type retained struct {
		path string
		at   int64
	}
	var out []retained
	for _, e := range entries {
		at, ok := deletedAt(e.Name())
		if !ok {
			continue
		}
		out = append(out, retained{path: filepath.Join(d.basePath, trashDir, e.Name()), at: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at < out[j].at })

	paths := make([]string, len(out))
	for i, r := range out {
		paths[i] = r.path
	}
	return paths, nil
}

// Sweep permanently removes retained directories deleted before now-olderThan
func (d *LocalDriver) Sweep(olderThan time.Duration, now time.Time) ([]string, error) {
	retained, err := d.Retained()
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-olderThan).UnixNano()
	var removed []string
	for _, path := range retained {
		at, _ := deletedAt(filepath.Base(path))
		if at > cutoff {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to sweep %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

func deletedAt(name string) (int64, bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return 0, false
	}
	at, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return at, true
}

func validName(canonical string) error {
	if canonical == "" || canonical == "." || canonical == ".." ||
		strings.ContainsAny(canonical, `/\`) || strings.HasPrefix(canonical, ".") {
		return fmt.Errorf("invalid instance name %q", canonical)
	}
	return nil
}
