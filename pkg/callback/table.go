package callback

import (
	"embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var tableFS embed.FS

// DefaultTable names the table used when none is configured.
const DefaultTable = "tmf"

// Table maps callback method names to positional parameter names.
// An empty name marks a position that is not named.
type Table struct {
	Version     string              `yaml:"version"`
	Description string              `yaml:"description,omitempty"`
	Callbacks   map[string][]string `yaml:"callbacks"`
}

// Lookup returns the name for position index of method.
func (t *Table) Lookup(method string, index int) (string, bool) {
	if t == nil || index < 0 {
		return "", false
	}
	names, ok := t.Callbacks[method]
	if !ok || index >= len(names) {
		return "", false
	}
	return names[index], true
}

// Methods returns the callback names the table knows, sorted.
func (t *Table) Methods() []string {
	out := make([]string, 0, len(t.Callbacks))
	for m := range t.Callbacks {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Table)
)

// LoadTable loads an embedded table by name (e.g. "tmf").
func LoadTable(name string) (*Table, error) {
	cacheMu.RLock()
	if t, ok := cache[name]; ok {
		cacheMu.RUnlock()
		return t, nil
	}
	cacheMu.RUnlock()

	data, err := tableFS.ReadFile("tables/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("callback table %q not found: %w", name, err)
	}

	t, err := ParseTable(data)
	if err != nil {
		return nil, fmt.Errorf("parsing callback table %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[name] = t
	cacheMu.Unlock()

	return t, nil
}

// ParseTable decodes a table from YAML.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t.Callbacks == nil {
		t.Callbacks = make(map[string][]string)
	}
	return &t, nil
}

// AvailableTables returns the names of all embedded tables.
func AvailableTables() ([]string, error) {
	entries, err := tableFS.ReadDir("tables")
	if err != nil {
		return nil, fmt.Errorf("reading tables directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(names)
	return names, nil
}
