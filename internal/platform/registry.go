// Package platform holds the emulated sound chips and the registry that maps
// a system id to a constructor.
package platform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cbegin/chipdispatch-go/internal/dispatch"
)

// SystemID identifies a chip model.
type SystemID int

const (
	SystemDummy SystemID = iota
	SystemNES
	SystemPSG
	SystemPSGTI
	SystemWave
)

// ErrUnknownSystem is returned for ids that have no registered factory.
var ErrUnknownSystem = errors.New("unknown system")

// Model selects a chip sub-model where one backend covers several.
type Model int

const (
	ModelDefault Model = iota
	ModelSega
	ModelTI
)

// Params is handed to a Factory. It replaces setting sub-model flags on a
// chip after it has been constructed.
type Params struct {
	Model Model
}

// Factory constructs an uninitialized chip.
type Factory func(p Params) dispatch.Dispatch

type entry struct {
	name    string
	factory Factory
	params  Params
}

// Registry maps system ids to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[SystemID]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[SystemID]entry)}
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id SystemID, name string, f Factory, p Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = entry{name: strings.ToLower(name), factory: f, params: p}
}

// New constructs the chip registered for id.
func (r *Registry) New(id SystemID) (dispatch.Dispatch, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSystem, int(id))
	}
	return e.factory(e.params), nil
}

// Lookup finds a system by name.
func (r *Registry) Lookup(name string) (SystemID, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.entries {
		if e.name == name {
			return id, true
		}
	}
	return 0, false
}

func (r *Registry) Name(id SystemID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[id]; ok {
		return e.name
	}
	return ""
}

// Systems lists the registered ids in ascending order.
func (r *Registry) Systems() []SystemID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SystemID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Default holds every chip in this package.
var Default = newDefault()

func newDefault() *Registry {
	r := NewRegistry()
	r.Register(SystemDummy, "dummy", func(Params) dispatch.Dispatch { return &Dummy{} }, Params{})
	r.Register(SystemNES, "nes", func(Params) dispatch.Dispatch { return &NES{} }, Params{})
	r.Register(SystemPSG, "psg", newPSG, Params{Model: ModelSega})
	r.Register(SystemPSGTI, "sn76489", newPSG, Params{Model: ModelTI})
	r.Register(SystemWave, "wave", func(Params) dispatch.Dispatch { return &Wave{} }, Params{})
	return r
}

func (id SystemID) String() string {
	if n := Default.Name(id); n != "" {
		return n
	}
	return fmt.Sprintf("system(%d)", int(id))
}

// ParseSystem resolves a system name against the Default registry.
func ParseSystem(name string) (SystemID, error) {
	if id, ok := Default.Lookup(name); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSystem, name)
}
