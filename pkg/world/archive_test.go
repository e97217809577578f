package world

import (
	"archive/zip"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/minepanel/pkg/types"
	"github.com/cuemby/minepanel/pkg/volume"
)

func newService(t *testing.T) (*Service, *volume.LocalDriver) {
	t.Helper()
	dirs, err := volume.NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	return NewService(dirs), dirs
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func readFiles(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		require.NoError(t, err)
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExportImportRoundTrip(t *testing.T) {
	svc, dirs := newService(t)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)

	files := map[string]string{
		"Bedrock level/level.dat":     "level-data",
		"Bedrock level/levelname.txt": "Bedrock level",
		"Bedrock level/db/000005.ldb": string(bytes.Repeat([]byte("chunk"), 4096)),
		"Bedrock level/db/CURRENT":    "MANIFEST-000004\n",
	}
	writeFiles(t, dirs.WorldsPath("mc-lobby"), files)

	data, err := svc.Export("mc-lobby")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	require.NoError(t, os.RemoveAll(dirs.WorldsPath("mc-lobby")))
	require.NoError(t, svc.Import("mc-lobby", data))

	assert.Equal(t, files, readFiles(t, dirs.WorldsPath("mc-lobby")))

	// no staging or backup directories are left behind
	entries, err := os.ReadDir(dirs.Path("mc-lobby"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, volume.WorldsDir, entries[0].Name())
}

func TestImportReplacesExistingWorld(t *testing.T) {
	svc, dirs := newService(t)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)
	writeFiles(t, dirs.WorldsPath("mc-lobby"), map[string]string{"old/level.dat": "old"})

	require.NoError(t, svc.Import("mc-lobby", buildZip(t, map[string]string{"new/level.dat": "new"})))

	assert.Equal(t, map[string]string{"new/level.dat": "new"}, readFiles(t, dirs.WorldsPath("mc-lobby")))
}

func TestImportStripsWorldsPrefix(t *testing.T) {
	svc, dirs := newService(t)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)

	require.NoError(t, svc.Import("mc-lobby", buildZip(t, map[string]string{
		"worlds/Bedrock level/level.dat": "x",
	})))
	assert.Equal(t, map[string]string{"Bedrock level/level.dat": "x"}, readFiles(t, dirs.WorldsPath("mc-lobby")))
}

func TestImportRejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"parent escape", "../evil.txt"},
		{"nested escape", "world/../../evil.txt"},
		{"absolute", "/etc/evil.txt"},
		{"windows escape", `..\evil.txt`},
		{"drive letter", `C:\evil.txt`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, dirs := newService(t)
			_, err := dirs.Ensure("mc-lobby")
			require.NoError(t, err)
			writeFiles(t, dirs.WorldsPath("mc-lobby"), map[string]string{"keep/level.dat": "keep"})

			err = svc.Import("mc-lobby", buildZip(t, map[string]string{
				"good/level.dat": "fine",
				tt.entry:         "evil",
			}))
			assert.ErrorIs(t, err, types.ErrPathTraversal)
			assert.ErrorIs(t, err, types.ErrArchive)

			// nothing changed, nothing escaped
			assert.Equal(t, map[string]string{"keep/level.dat": "keep"}, readFiles(t, dirs.WorldsPath("mc-lobby")))
			_, err = os.Stat(filepath.Join(dirs.Path("mc-lobby"), "evil.txt"))
			assert.True(t, os.IsNotExist(err))
			_, err = os.Stat(filepath.Join(dirs.BasePath(), "evil.txt"))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestImportRejectsSymlinks(t *testing.T) {
	svc, dirs := newService(t)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	hdr := &zip.FileHeader{Name: "link"}
	hdr.SetMode(fs.ModeSymlink | 0777)
	w, err := zw.CreateHeader(hdr)
	require.NoError(t, err)
	_, err = w.Write([]byte("/etc/passwd"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	err = svc.Import("mc-lobby", buf.Bytes())
	assert.ErrorIs(t, err, types.ErrPathTraversal)
}

func TestImportRejectsCorruptArchive(t *testing.T) {
	svc, dirs := newService(t)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)

	err = svc.Import("mc-lobby", []byte("definitely not a zip"))
	assert.ErrorIs(t, err, types.ErrCorruptArchive)
	assert.ErrorIs(t, err, types.ErrArchive)
}

func TestImportRejectsFileDirectoryCollision(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
	}{
		{"file then nested file", map[string]string{"level": "x", "level/db": "y"}},
		{"explicit directory", map[string]string{"level": "x", "level/": ""}},
		{"deep parent", map[string]string{"a/b": "x", "a/b/c/d": "y"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, dirs := newService(t)
			_, err := dirs.Ensure("mc-lobby")
			require.NoError(t, err)
			writeFiles(t, dirs.WorldsPath("mc-lobby"), map[string]string{"keep/level.dat": "keep"})

			err = svc.Import("mc-lobby", buildZip(t, tt.entries))
			assert.ErrorIs(t, err, types.ErrCorruptArchive)
			assert.ErrorIs(t, err, types.ErrArchive)
			assert.Equal(t, map[string]string{"keep/level.dat": "keep"}, readFiles(t, dirs.WorldsPath("mc-lobby")))
		})
	}
}

func TestImportEnforcesSizeLimit(t *testing.T) {
	svc, dirs := newService(t)
	svc.SetMaxUncompressed(10)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)

	err = svc.Import("mc-lobby", buildZip(t, map[string]string{"big.dat": "0123456789abcdef"}))
	assert.ErrorIs(t, err, types.ErrCorruptArchive)
}

func TestImportUnknownInstance(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Import("mc-ghost", buildZip(t, map[string]string{"a": "b"}))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestExportMissingWorld(t *testing.T) {
	svc, dirs := newService(t)

	_, err := svc.Export("mc-ghost")
	assert.ErrorIs(t, err, types.ErrWorldNotFound)

	_, err = dirs.Ensure("mc-lobby")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dirs.WorldsPath("mc-lobby")))
	_, err = svc.Export("mc-lobby")
	assert.ErrorIs(t, err, types.ErrWorldNotFound)
	assert.ErrorIs(t, err, types.ErrArchive)
}

func TestExportSkipsSymlinks(t *testing.T) {
	svc, dirs := newService(t)
	_, err := dirs.Ensure("mc-lobby")
	require.NoError(t, err)
	writeFiles(t, dirs.WorldsPath("mc-lobby"), map[string]string{"level.dat": "x"})
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(dirs.WorldsPath("mc-lobby"), "passwd")))

	data, err := svc.Export("mc-lobby")
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"level.dat"}, names)
}
