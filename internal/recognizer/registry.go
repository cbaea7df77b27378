package recognizer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUnknownBackend is returned by New for names that were never registered.
var ErrUnknownBackend = errors.New("unknown recognizer backend")

// Factory builds a backend. It is called once per process.
type Factory func(opts Options) (Recognizer, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering the same name
// twice replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends lists registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New validates opts and builds the named backend.
func New(name string, opts Options) (Recognizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("recognizer options: %w", err)
	}

	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}

	start := time.Now()
	r, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize %s recognizer: %w", name, err)
	}
	slog.Info("Recognizer initialized",
		"backend", name,
		"languages", opts.Languages,
		"accelerator", opts.UseAccelerator,
		"duration", time.Since(start))
	return r, nil
}
