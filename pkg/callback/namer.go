package callback

import (
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gbxremote/gbxremote-go/pkg/xmlrpc"
)

// Discovery reports a callback parameter position no table names.
type Discovery struct {
	Method string
	Index  int
	Name   string
	Sample xmlrpc.Value
}

// Option configures a Namer.
type Option func(*Namer)

// WithLearning enables or disables the learned overlay. Enabled by default.
func WithLearning(enabled bool) Option {
	return func(n *Namer) { n.learn = enabled }
}

// WithOnLearn sets a hook called once per newly discovered position.
func WithOnLearn(fn func(Discovery)) Option {
	return func(n *Namer) { n.onLearn = fn }
}

// Namer names callback parameters from a production table, falling back
// to an overlay of positions learned at runtime. It is safe for
// concurrent use.
type Namer struct {
	table   *Table
	learn   bool
	onLearn func(Discovery)

	mu      sync.RWMutex
	learned map[string]map[int]string
}

// NewNamer creates a namer backed by table. A nil table names nothing.
func NewNamer(table *Table, opts ...Option) *Namer {
	n := &Namer{
		table:   table,
		learn:   true,
		learned: make(map[string]map[int]string),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NewDefaultNamer creates a namer backed by the default embedded table.
func NewDefaultNamer(opts ...Option) (*Namer, error) {
	t, err := LoadTable(DefaultTable)
	if err != nil {
		return nil, err
	}
	return NewNamer(t, opts...), nil
}

// Table returns the production table.
func (n *Namer) Table() *Table {
	return n.table
}

// ParamName implements xmlrpc.ParamNamer.
func (n *Namer) ParamName(method string, index int) (string, bool) {
	if name, ok := n.table.Lookup(method, index); ok {
		return name, true
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.learned[method][index]
	return name, ok
}

// Learn implements xmlrpc.ParamNamer. The first sighting of a position is
// recorded in the overlay and reported to the OnLearn hook.
func (n *Namer) Learn(method string, index int, name string, sample xmlrpc.Value) {
	if !n.learn {
		return
	}

	n.mu.Lock()
	positions, ok := n.learned[method]
	if !ok {
		positions = make(map[int]string)
		n.learned[method] = positions
	}
	if _, seen := positions[index]; seen {
		n.mu.Unlock()
		return
	}
	positions[index] = name
	n.mu.Unlock()

	if n.onLearn != nil {
		n.onLearn(Discovery{Method: method, Index: index, Name: name, Sample: sample})
	}
}

// Learned returns a copy of the overlay: method to position to name.
func (n *Namer) Learned() map[string]map[int]string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make(map[string]map[int]string, len(n.learned))
	for m, positions := range n.learned {
		cp := make(map[int]string, len(positions))
		for i, name := range positions {
			cp[i] = name
		}
		out[m] = cp
	}
	return out
}

// Reset clears the overlay.
func (n *Namer) Reset() {
	n.mu.Lock()
	n.learned = make(map[string]map[int]string)
	n.mu.Unlock()
}

// Merged returns the production table with learned positions folded in,
// ready to be reviewed and promoted into a new table version.
func (n *Namer) Merged() *Table {
	out := &Table{Callbacks: make(map[string][]string)}
	if n.table != nil {
		out.Version = n.table.Version
		out.Description = n.table.Description
		for m, names := range n.table.Callbacks {
			out.Callbacks[m] = append([]string(nil), names...)
		}
	}

	for m, positions := range n.Learned() {
		names := out.Callbacks[m]
		indexes := make([]int, 0, len(positions))
		for i := range positions {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			for len(names) <= i {
				names = append(names, "")
			}
			if names[i] == "" {
				names[i] = positions[i]
			}
		}
		out.Callbacks[m] = names
	}
	return out
}

// ExportYAML renders Merged as YAML.
func (n *Namer) ExportYAML() ([]byte, error) {
	return yaml.Marshal(n.Merged())
}

var _ xmlrpc.ParamNamer = (*Namer)(nil)
