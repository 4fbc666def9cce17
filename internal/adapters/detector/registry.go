package detector

import (
	"fmt"
	"net/http"
	"sort"
)

// Registry maps detector ids to adapters.
type Registry struct {
	adapters map[string]*Adapter
	ids      []string
}

// NewRegistry indexes adapters by id. It fails on an empty list or a
// repeated id.
func NewRegistry(adapters ...*Adapter) (*Registry, error) {
	if len(adapters) == 0 {
		return nil, ErrNoDetectors
	}
	r := &Registry{adapters: make(map[string]*Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.ID()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDetector, a.ID())
		}
		r.adapters[a.ID()] = a
		r.ids = append(r.ids, a.ID())
	}
	sort.Strings(r.ids)
	return r, nil
}

// Build constructs every configured detector. In-process backends are looked
// up by detector id in funcs.
func Build(cfgs []Config, funcs map[string]BackendFunc, opts ...Option) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoDetectors
	}
	client := &http.Client{}
	adapters := make([]*Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		backend, err := newBackend(cfg, funcs, client)
		if err != nil {
			return nil, err
		}
		a, err := NewAdapter(cfg, backend, opts...)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return NewRegistry(adapters...)
}

func newBackend(cfg Config, funcs map[string]BackendFunc, client *http.Client) (Backend, error) {
	decoder := Decoder{Format: cfg.Format, Capability: cfg.Capability, Side: cfg.Side}
	switch cfg.Kind {
	case KindHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: detector %s needs a url", ErrInvalidDetector, cfg.ID)
		}
		return NewHTTPBackend(cfg.URL, client, decoder), nil
	case KindProcess:
		b, err := NewProcessBackend(cfg.Command, decoder)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", cfg.ID, err)
		}
		return b, nil
	case KindFunc:
		fn, ok := funcs[cfg.ID]
		if !ok || fn == nil {
			return nil, fmt.Errorf("%w: no in-process backend registered for %s", ErrInvalidDetector, cfg.ID)
		}
		return fn, nil
	}
	return nil, fmt.Errorf("%w: %q for detector %s", ErrUnknownKind, cfg.Kind, cfg.ID)
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (*Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Adapters returns the adapters in id order.
func (r *Registry) Adapters() []*Adapter {
	out := make([]*Adapter, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.adapters[id])
	}
	return out
}

// Len is the number of registered detectors.
func (r *Registry) Len() int { return len(r.ids) }
