package agent

import "context"

// RelationKind distinguishes views from base tables.
type RelationKind string

const (
	KindView  RelationKind = "view"
	KindTable RelationKind = "table"
)

// Relation is a queryable table or view.
type Relation struct {
	Name string
	Kind RelationKind
}

// Column is one column of a relation.
type Column struct {
	Name string
	Type string
}

// RelationSchema is a relation with its columns.
type RelationSchema struct {
	Relation
	Columns []Column
}

// Result holds the rows of an executed query. Truncated is set when the
// row cap cut the result short.
type Result struct {
	Columns   []string
	Rows      []map[string]interface{}
	Truncated bool
}

func (r *Result) clone() Result {
	c := Result{Truncated: r.Truncated}
	if r.Columns != nil {
		c.Columns = append([]string(nil), r.Columns...)
	}
	if r.Rows != nil {
		c.Rows = cloneRows(r.Rows)
	}
	return c
}

// Warehouse is the store the agent reads. Query must run read-only and stop
// after rowCap rows.
type Warehouse interface {
	Dialect() string
	ListRelations(ctx context.Context) ([]Relation, error)
	DescribeRelations(ctx context.Context, names []string) ([]RelationSchema, error)
	Query(ctx context.Context, sql string, rowCap int) (Result, error)
}

// CheckpointStore persists State between turns.
type CheckpointStore interface {
	Put(ctx context.Context, threadID string, s State) error
	// Get returns false when the thread has no checkpoint.
	Get(ctx context.Context, threadID string) (State, bool, error)
}
