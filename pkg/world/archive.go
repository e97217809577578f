package world

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog"

	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/types"
)

// DefaultMaxUncompressed bounds the total extracted size of an import
const DefaultMaxUncompressed int64 = 4 << 30

// Dirs resolves instance directories
type Dirs interface {
	Exists(canonical string) bool
	Path(canonical string) string
	WorldsPath(canonical string) string
}

// Service reads and replaces world directories
type Service struct {
	dirs            Dirs
	maxUncompressed int64
	logger          zerolog.Logger
}

// NewService creates a world archive service
func NewService(dirs Dirs) *Service {
	return &Service{
		dirs:            dirs,
		maxUncompressed: DefaultMaxUncompressed,
		logger:          log.WithComponent("world"),
	}
}

// SetMaxUncompressed changes the import size limit
func (s *Service) SetMaxUncompressed(n int64) {
	s.maxUncompressed = n
}

// Export returns the world directory of an instance as a zip archive
func (s *Service) Export(canonical string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteArchive(canonical, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteArchive writes the world directory of an instance to w as a zip
// archive. Entry names are relative to the worlds directory.
func (s *Service) WriteArchive(canonical string, w io.Writer) error {
	root := s.dirs.WorldsPath(canonical)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s: %w", canonical, types.ErrWorldNotFound)
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		// links could point anywhere on the host
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			_, err := zw.CreateHeader(hdr)
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		hdr.Method = zip.Deflate

		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(dst, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive world of %s: %w", canonical, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

type entry struct {
	file *zip.File
	name string // cleaned, slash separated, relative
}

// Import replaces the world directory of an instance with the archive contents
func (s *Service) Import(canonical string, data []byte) error {
	if !s.dirs.Exists(canonical) {
		return fmt.Errorf("data directory of %s: %w", canonical, types.ErrNotFound)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	// insecure names are rejected with a precise error by validate
	if err != nil && !(errors.Is(err, zip.ErrInsecurePath) && zr != nil) {
		return fmt.Errorf("%w: %v", types.ErrCorruptArchive, err)
	}
	zr.RegisterDecompressor(zip.Deflate, func(in io.Reader) io.ReadCloser {
		return flate.NewReader(in)
	})

	entries, err := s.validate(zr.File)
	if err != nil {
		return err
	}

	parent := s.dirs.Path(canonical)
	staging, err := os.MkdirTemp(parent, ".worlds-import-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0755); err != nil {
		return fmt.Errorf("failed to prepare staging directory: %w", err)
	}

	for _, e := range entries {
		if err := extract(staging, e); err != nil {
			return err
		}
	}

	if err := swap(s.dirs.WorldsPath(canonical), staging); err != nil {
		return err
	}

	s.logger.Info().Str("instance", canonical).Int("entries", len(entries)).Msg("World imported")
	return nil
}

// validate checks every entry before anything is extracted
func (s *Service) validate(files []*zip.File) ([]entry, error) {
	entries := make([]entry, 0, len(files))
	var total uint64

	for _, f := range files {
		name, err := cleanName(f.Name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}

		mode := f.Mode()
		if mode&fs.ModeSymlink != 0 {
			return nil, fmt.Errorf("%w: %s is a symbolic link", types.ErrPathTraversal, f.Name)
		}
		if !mode.IsDir() && !mode.IsRegular() {
			return nil, fmt.Errorf("%w: %s is not a regular file", types.ErrCorruptArchive, f.Name)
		}

		total += f.UncompressedSize64
		if s.maxUncompressed > 0 && total > uint64(s.maxUncompressed) {
			return nil, fmt.Errorf("%w: archive expands beyond %d bytes", types.ErrCorruptArchive, s.maxUncompressed)
		}
		entries = append(entries, entry{file: f, name: name})
	}

	entries = stripWorldsPrefix(entries)
	if err := checkCollisions(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// checkCollisions rejects archives that use one path as both a file and a
// directory, which cannot be laid out on disk
func checkCollisions(entries []entry) error {
	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, e := range entries {
		if e.file.Mode().IsDir() {
			dirs[e.name] = true
		} else {
			files[e.name] = true
		}
		for dir := path.Dir(e.name); dir != "."; dir = path.Dir(dir) {
			dirs[dir] = true
		}
	}
	for name := range files {
		if dirs[name] {
			return fmt.Errorf("%w: %s is both a file and a directory", types.ErrCorruptArchive, name)
		}
	}
	return nil
}

// cleanName normalizes an entry name and rejects anything escaping the root
func cleanName(name string) (string, error) {
	n := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(n, "/") || filepath.IsAbs(n) || filepath.VolumeName(n) != "" ||
		(len(n) >= 2 && n[1] == ':') {
		return "", fmt.Errorf("%w: %s is absolute", types.ErrPathTraversal, name)
	}

	cleaned := path.Clean(n)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", types.ErrPathTraversal, name)
	}
	return cleaned, nil
}

// stripWorldsPrefix accepts archives whose entries all sit under a top-level
// worlds/ directory, as produced by zipping the directory itself
func stripWorldsPrefix(entries []entry) []entry {
	if len(entries) == 0 {
		return entries
	}
	for _, e := range entries {
		if e.name != "worlds" && !strings.HasPrefix(e.name, "worlds/") {
			return entries
		}
	}

	out := entries[:0]
	for _, e := range entries {
		e.name = strings.TrimPrefix(strings.TrimPrefix(e.name, "worlds"), "/")
		if e.name == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func extract(root string, e entry) error {
	target := filepath.Join(root, filepath.FromSlash(e.name))
	// cleanName already guarantees this; checked again against the real path
	if rel, err := filepath.Rel(root, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", types.ErrPathTraversal, e.file.Name)
	}

	if e.file.Mode().IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := e.file.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrCorruptArchive, e.file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	// read at most one byte past the declared size to catch lying headers
	n, err := io.Copy(dst, io.LimitReader(src, int64(e.file.UncompressedSize64)+1))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %s: %v", types.ErrCorruptArchive, e.file.Name, err)
		}
		return fmt.Errorf("failed to extract %s: %w", e.file.Name, err)
	}
	if uint64(n) != e.file.UncompressedSize64 {
		return fmt.Errorf("%w: %s size mismatch", types.ErrCorruptArchive, e.file.Name)
	}

	if !e.file.Modified.IsZero() {
		_ = os.Chtimes(target, e.file.Modified, e.file.Modified)
	}
	return nil
}

// swap moves staging into place of worlds, restoring the old tree on failure
func swap(worlds, staging string) error {
	backup := fmt.Sprintf("%s.old-%d", worlds, time.Now().UnixNano())

	hadOld := true
	if err := os.Rename(worlds, backup); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to move old world aside: %w", err)
		}
		hadOld = false
	}

	if err := os.Rename(staging, worlds); err != nil {
		if hadOld {
			_ = os.Rename(backup, worlds)
		}
		return fmt.Errorf("failed to install imported world: %w", err)
	}

	if hadOld {
		if err := os.RemoveAll(backup); err != nil {
			return fmt.Errorf("failed to remove old world: %w", err)
		}
	}
	return nil
}
