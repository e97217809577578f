package properties

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/magiconair/properties"

	"github.com/cuemby/minepanel/pkg/config"
	"github.com/cuemby/minepanel/pkg/types"
)

// FileName is the properties file inside an instance data directory
const FileName = "server.properties"

// Dirs resolves instance data directories
type Dirs interface {
	Path(canonical string) string
	Exists(canonical string) bool
}

// Editor reads and merges server.properties files
type Editor struct {
	dirs Dirs
}

// NewEditor creates an editor over the given instance directories
func NewEditor(dirs Dirs) *Editor {
	return &Editor{dirs: dirs}
}

// Path returns the properties file of an instance
func (e *Editor) Path(canonical string) string {
	return filepath.Join(e.dirs.Path(canonical), FileName)
}

// Get returns every key of an instance's properties file. A data directory
// without a properties file yields an empty map.
func (e *Editor) Get(canonical string) (map[string]string, error) {
	if !e.dirs.Exists(canonical) {
		return nil, fmt.Errorf("data directory of %s: %w", canonical, types.ErrNotFound)
	}

	p, err := load(e.Path(canonical))
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

// Set merges values into an instance's properties file and returns the
// resulting key set. Existing keys keep their position and comments.
func (e *Editor) Set(canonical string, values map[string]string) (map[string]string, error) {
	if !e.dirs.Exists(canonical) {
		return nil, fmt.Errorf("data directory of %s: %w", canonical, types.ErrNotFound)
	}
	if err := Validate(values); err != nil {
		return nil, err
	}

	path := e.Path(canonical)
	p, err := load(path)
	if err != nil {
		return nil, err
	}

	// deterministic order for keys appended to the file
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, _, err := p.Set(k, values[k]); err != nil {
			return nil, types.Validationf("property %s: %v", k, err)
		}
	}

	var buf bytes.Buffer
	p.WriteSeparator = "="
	if _, err := p.WriteComment(&buf, "# ", properties.UTF8); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", FileName, err)
	}
	if err := config.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", FileName, err)
	}

	return p.Map(), nil
}

// Validate rejects keys and values that cannot round-trip through the file
func Validate(values map[string]string) error {
	for k, v := range values {
		if k == "" {
			return types.Validationf("property key must not be empty")
		}
		if strings.ContainsAny(k, "=: \t\r\n#!") {
			return types.Validationf("invalid property key %q", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return types.Validationf("property %s: value must be a single line", k)
		}
	}
	return nil
}

// WorldValues maps deploy parameters onto server.properties keys. Unset
// switches are left to the image defaults.
func WorldValues(name string, port, portV6 int, w types.WorldParams) map[string]string {
	values := map[string]string{
		"server-name": name,
		"server-port": strconv.Itoa(port),
	}
	if portV6 > 0 {
		values["server-portv6"] = strconv.Itoa(portV6)
	}
	if w.AllowCheats != nil {
		values["allow-cheats"] = strconv.FormatBool(*w.AllowCheats)
	}
	if w.OnlineMode != nil {
		values["online-mode"] = strconv.FormatBool(*w.OnlineMode)
	}
	if w.Seed != "" {
		values["level-seed"] = w.Seed
	}
	if w.GameMode != "" {
		values["gamemode"] = w.GameMode
	}
	if w.Difficulty != "" {
		values["difficulty"] = w.Difficulty
	}
	if w.LevelType != "" {
		values["level-type"] = w.LevelType
	}
	return values
}

func load(path string) (*properties.Properties, error) {
	l := &properties.Loader{
		Encoding:         properties.UTF8,
		DisableExpansion: true,
		IgnoreMissing:    true,
	}
	p, err := l.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			p = properties.NewProperties()
			p.DisableExpansion = true
			return p, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}
	return p, nil
}
