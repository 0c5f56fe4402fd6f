package responder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"
	"sync"
)

const pluginSuffix = ".so"

// exportedSymbol is the variable name a responder plugin must export.
const exportedSymbol = "Responder"

// SymbolOpener loads one candidate file and resolves its responder.
// The production opener uses the Go plugin package; tests inject fakes.
type SymbolOpener func(path string) (Responder, error)

// registration is one loaded responder with its file-derived name.
type registration struct {
	name      string
	responder Responder
}

// Registry owns the ordered collection of active responders.
//
// Load rebuilds the whole list and swaps it atomically: an in-flight
// dispatch over a previous Snapshot never observes a partial reload.
type Registry struct {
	log    *slog.Logger
	opener SymbolOpener

	mu   sync.RWMutex
	dir  string
	regs []registration
}

// Option customizes registry construction.
type Option func(*Registry)

// WithOpener replaces the plugin opener. Used by tests.
func WithOpener(opener SymbolOpener) Option {
	return func(r *Registry) {
		r.opener = opener
	}
}

// NewRegistry creates an empty registry bound to a plugin directory.
func NewRegistry(dir string, log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		log:    log.With("component", "responder.registry"),
		opener: openPluginResponder,
		dir:    dir,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Load scans dir for responder plugins and replaces the registry contents.
//
// Candidates are regular files with a .so suffix, in lexicographic order.
// A candidate that fails to load or does not satisfy the responder
// contract is skipped with a diagnostic; it never aborts the scan.
// Duplicate registration names resolve last-sorted-wins.
func (r *Registry) Load(dir string) error {
	candidates, err := listCandidates(dir)
	if err != nil {
		return fmt.Errorf("scan responder directory: %w", err)
	}

	loaded := make([]registration, 0, len(candidates))
	index := make(map[string]int, len(candidates))
	failures := 0

	for _, filename := range candidates {
		name := strings.TrimSuffix(filename, pluginSuffix)
		path := filepath.Join(dir, filename)

		resp, err := r.opener(path)
		if err != nil {
			failures++
			r.log.Error("failed to load responder", "name", name, "path", path, "error", err)
			continue
		}

		reg := registration{name: name, responder: resp}
		if at, ok := index[name]; ok {
			loaded[at] = reg
		} else {
			index[name] = len(loaded)
			loaded = append(loaded, reg)
		}
		r.log.Info("loaded responder", "name", name)
	}

	r.mu.Lock()
	r.dir = dir
	r.regs = loaded
	r.mu.Unlock()

	r.log.Info("responder load complete", "loaded", len(loaded), "failed", failures, "dir", dir)
	return nil
}

// Reload re-runs Load against the directory used by the previous load.
func (r *Registry) Reload() error {
	return r.Load(r.Dir())
}

// Dir returns the directory bound at the most recent load.
func (r *Registry) Dir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dir
}

// Count returns the number of currently registered responders.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// Names returns registration names in dispatch order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.regs))
	for i, reg := range r.regs {
		names[i] = reg.name
	}
	return names
}

// Snapshot returns the current registration list for one dispatch pass.
// The returned slice is immutable from the registry's point of view.
func (r *Registry) Snapshot() []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regs
}

// CandidateCount counts eligible plugin files currently on disk.
// Used by the reload monitor's count-comparison heuristic.
func (r *Registry) CandidateCount() (int, error) {
	candidates, err := listCandidates(r.Dir())
	if err != nil {
		return 0, err
	}
	return len(candidates), nil
}

// listCandidates returns eligible plugin file names in lexicographic order.
func listCandidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), pluginSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}

	sort.Strings(names)
	return names, nil
}

// openPluginResponder opens a .so file and resolves its exported responder.
func openPluginResponder(path string) (Responder, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin: %w", err)
	}

	sym, err := p.Lookup(exportedSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin exports no %s symbol: %w", exportedSymbol, err)
	}

	resp, ok := sym.(*Responder)
	if !ok || resp == nil || *resp == nil {
		return nil, errors.New("exported symbol does not satisfy the responder contract")
	}

	return *resp, nil
}
