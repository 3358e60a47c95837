package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Catalog caches relation listings and column descriptions for the life of
// the process. The schema is fixed by migrations, so entries never expire.
type Catalog struct {
	wh Warehouse

	mu        sync.Mutex
	relations []Relation
	described map[string]RelationSchema
}

// NewCatalog wraps wh with a cache.
func NewCatalog(wh Warehouse) *Catalog {
	return &Catalog{wh: wh, described: make(map[string]RelationSchema)}
}

// Relations lists the warehouse relations, views first.
func (c *Catalog) Relations(ctx context.Context) ([]Relation, error) {
	c.mu.Lock()
	cached := c.relations
	c.mu.Unlock()
	if cached != nil {
		return append([]Relation(nil), cached...), nil
	}

	rels, err := c.wh.ListRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("Catalog.Relations: %w", err)
	}
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].Kind != rels[j].Kind {
			return rels[i].Kind == KindView
		}
		return rels[i].Name < rels[j].Name
	})

	c.mu.Lock()
	c.relations = rels
	c.mu.Unlock()
	return append([]Relation(nil), rels...), nil
}

// Describe returns the columns of names, fetching only the ones not cached.
func (c *Catalog) Describe(ctx context.Context, names []string) ([]RelationSchema, error) {
	c.mu.Lock()
	var missing []string
	for _, n := range names {
		if _, ok := c.described[n]; !ok {
			missing = append(missing, n)
		}
	}
	c.mu.Unlock()

	if len(missing) > 0 {
		fetched, err := c.wh.DescribeRelations(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("Catalog.Describe: %w", err)
		}
		c.mu.Lock()
		for _, rs := range fetched {
			c.described[rs.Name] = rs
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RelationSchema, 0, len(names))
	for _, n := range names {
		if rs, ok := c.described[n]; ok {
			out = append(out, rs)
		}
	}
	return out, nil
}

// SchemaText renders relation schemas for a prompt, with the documentation
// of known views attached.
func SchemaText(schemas []RelationSchema) string {
	var b strings.Builder
	for i, rs := range schemas {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s\n", strings.ToUpper(string(rs.Kind)), rs.Name)
		if info, ok := ViewByName(rs.Name); ok {
			fmt.Fprintf(&b, "  Description: %s\n", info.Description)
			if len(info.KeyFields) > 0 {
				fmt.Fprintf(&b, "  Key fields: %s\n", strings.Join(info.KeyFields, ", "))
			}
			for _, uc := range info.UseCases {
				fmt.Fprintf(&b, "  Example question: %s\n", uc)
			}
		}
		b.WriteString("  Columns:\n")
		for _, col := range rs.Columns {
			fmt.Fprintf(&b, "    - %s %s\n", col.Name, col.Type)
		}
	}
	return b.String()
}
