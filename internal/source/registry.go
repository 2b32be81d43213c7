package source

import (
	"context"
	"fmt"
	"iter"

	"dq-engine/internal/catalog"
)

// Registry dispatches to the adapter registered for a data source type.
type Registry struct {
	adapters map[catalog.DataSourceType]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[catalog.DataSourceType]Adapter{}}
}

func (r *Registry) Register(t catalog.DataSourceType, a Adapter) {
	r.adapters[t] = a
}

func (r *Registry) For(ds catalog.DataSource) (Adapter, error) {
	a, ok := r.adapters[ds.Type]
	if !ok {
		return nil, malformed(ds.Name, "", "", fmt.Sprintf("no adapter for data source type %q", ds.Type), nil)
	}
	return a, nil
}

func (r *Registry) Discover(ctx context.Context, ds catalog.DataSource) (*Schema, error) {
	a, err := r.For(ds)
	if err != nil {
		return nil, err
	}
	return a.Discover(ctx, ds)
}

func (r *Registry) Open(ctx context.Context, ds catalog.DataSource, table, field string) (iter.Seq2[any, error], error) {
	a, err := r.For(ds)
	if err != nil {
		return nil, err
	}
	return a.Open(ctx, ds, table, field)
}
