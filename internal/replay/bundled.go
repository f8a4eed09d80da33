package replay

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed scenarios/*.json
var scenariosFS embed.FS

// Bundled loads a scenario shipped with the binary by name, without the
// .json extension.
func Bundled(name string) (*Scenario, error) {
	data, err := scenariosFS.ReadFile("scenarios/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load scenario %s: %w", name, err)
	}
	return Load(bytes.NewReader(data))
}

// BundledNames lists the bundled scenarios in name order.
func BundledNames() ([]string, error) {
	entries, err := fs.ReadDir(scenariosFS, "scenarios")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), path.Ext(entry.Name())))
	}
	sort.Strings(names)
	return names, nil
}
