package device

import (
	"sort"
	"sync"

	"github.com/spaghettifunk/halcyon/engine/renderer/metadata"
)

// Options carries what a backend needs to open a device. Native holds a
// backend-specific context, such as the externally created Vulkan handles;
// the software backend ignores it.
type Options struct {
	// Extent is the initial framebuffer extent of the presentation surface.
	Extent metadata.Extent2D
	// Slots requested for command rotation; backends clamp to what they
	// support.
	Slots int
	// Native is the backend-specific context object.
	Native interface{}
}

// Factory opens a Device from Options.
type Factory func(opts Options) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. Backends call this from
// init; registering the same name twice panics, like database/sql drivers.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("device: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("device: Register called twice for backend " + name)
	}
	registry[name] = f
}

// Open creates a Device with the named backend.
func Open(name string, opts Options) (Device, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &UnknownBackendError{Name: name, Known: Backends()}
	}
	return f(opts)
}

// Backends lists the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownBackendError reports an Open against a name nothing registered.
type UnknownBackendError struct {
	Name  string
	Known []string
}

func (e *UnknownBackendError) Error() string {
	msg := "device: unknown backend " + e.Name
	if len(e.Known) > 0 {
		msg += " (registered:"
		for _, k := range e.Known {
			msg += " " + k
		}
		msg += ")"
	}
	return msg
}
