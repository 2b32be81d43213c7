// Package source defines the discovery and row-reading contracts the engine
// consumes, plus the adapters for file, cloud and database sources.
package source

import (
	"context"
	"iter"

	"dq-engine/internal/catalog"
)

type DiscoveredConstraint struct {
	Type       catalog.ConstraintType
	Expression string
}

type DiscoveredField struct {
	Name        string
	DataType    string
	Metadata    map[string]any
	Constraints []DiscoveredConstraint
}

// DiscoveredRelation links a field of the owning table to a field of
// DstTable.
type DiscoveredRelation struct {
	SrcField     string
	DstTable     string
	DstField     string
	RelationType string
}

type DiscoveredTable struct {
	Name        string
	Description *string
	Metadata    map[string]any
	Fields      []DiscoveredField
	Relations   []DiscoveredRelation
}

// Schema is one discovery result. Confident is false when the adapter could
// not prove that an empty result reflects reality.
type Schema struct {
	Tables    []DiscoveredTable
	Confident bool
}

type Discoverer interface {
	Discover(ctx context.Context, ds catalog.DataSource) (*Schema, error)
}

// RowSource yields the values of one column. A nil value is a null. The
// sequence is finite and must not be iterated twice.
type RowSource interface {
	Open(ctx context.Context, ds catalog.DataSource, table, field string) (iter.Seq2[any, error], error)
}

type Adapter interface {
	Discoverer
	RowSource
}
