package pluginhost

import (
	"fmt"
	"sort"
	"sync"
)

// Factory activates a compiled-in plugin. The returned value becomes the
// plugin handle.
type Factory func(Host) (any, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a compiled-in plugin available to every Manager. It is meant
// to be called from init and panics on an empty name, a nil factory or a
// duplicate registration.
func Register(name string, factory Factory) {
	if name == "" {
		panic("pluginhost: Register with empty name")
	}
	if factory == nil {
		panic("pluginhost: Register with nil factory for " + name)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("pluginhost: Register called twice for %q", name))
	}
	registry[name] = factory
}

// Registered returns the names of compiled-in plugins, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupFactory(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

func unregister(name string) {
	registryMu.Lock()
	delete(registry, name)
	registryMu.Unlock()
}
