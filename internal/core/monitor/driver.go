package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yndnr/hamesh-go/internal/core/domain"
	"github.com/yndnr/hamesh-go/internal/storage/objconf"
)

// ResourceDriver is the contract between the monitor and a resource
// implementation. Start and Stop return an error on failure; Status
// never fails and reports undef when the state cannot be determined.
type ResourceDriver interface {
	RID() string
	Type() string
	Status(ctx context.Context) domain.Status
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Info(ctx context.Context) map[string]string
}

// Factory builds a driver from a resource definition. path is the
// owning object.
type Factory func(path domain.ObjectPath, res objconf.Resource) (ResourceDriver, error)

// Registry maps resource types to driver factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in drivers selected
// for the running platform.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for typ, f := range builtinDrivers() {
		r.Register(typ, f)
	}
	return r
}

// Register adds or replaces the factory of a resource type.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types returns the registered resource types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Build instantiates the drivers of every resource of obj.
func (r *Registry) Build(obj objconf.Object) ([]ResourceDriver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ResourceDriver, 0, len(obj.Resources))
	for _, res := range obj.Resources {
		f, ok := r.factories[res.Type]
		if !ok {
			return nil, domain.ErrKindNotSupported.WithDetailsf("%s: resource type %s", res.RID, res.Type)
		}
		d, err := f(obj.Path, res)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", res.RID, err)
		}
		out = append(out, d)
	}
	return out, nil
}
