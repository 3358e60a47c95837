package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Warehouse runs the agent's queries against the star schema.
type Warehouse struct {
	db               *sqlx.DB
	statementTimeout time.Duration
}

// NewWarehouse wraps db. A positive statementTimeout is applied to every
// query with SET LOCAL.
func NewWarehouse(db *sqlx.DB, statementTimeout time.Duration) *Warehouse {
	return &Warehouse{db: db, statementTimeout: statementTimeout}
}

// Dialect implements agent.Warehouse.
func (w *Warehouse) Dialect() string { return "PostgreSQL" }

type relationRow struct {
	Name string `db:"table_name"`
	Type string `db:"table_type"`
}

// ListRelations implements agent.Warehouse. Bookkeeping tables are hidden.
func (w *Warehouse) ListRelations(ctx context.Context) ([]agent.Relation, error) {
	var rows []relationRow
	if err := w.db.SelectContext(ctx, &rows, `
		SELECT table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name NOT IN ('schema_migrations', 'agent_checkpoints')
		ORDER BY table_name
	`); err != nil {
		return nil, fmt.Errorf("ListRelations: querying information_schema: %w", err)
	}

	rels := make([]agent.Relation, 0, len(rows))
	for _, r := range rows {
		kind := agent.KindTable
		if r.Type == "VIEW" {
			kind = agent.KindView
		}
		rels = append(rels, agent.Relation{Name: r.Name, Kind: kind})
	}
	return rels, nil
}

type columnRow struct {
	Table    string `db:"table_name"`
	Kind     string `db:"table_type"`
	Column   string `db:"column_name"`
	DataType string `db:"data_type"`
}

// DescribeRelations implements agent.Warehouse. Unknown names are skipped.
func (w *Warehouse) DescribeRelations(ctx context.Context, names []string) ([]agent.RelationSchema, error) {
	if len(names) == 0 {
		return nil, nil
	}

	var rows []columnRow
	if err := w.db.SelectContext(ctx, &rows, `
		SELECT c.table_name, t.table_type, c.column_name, c.data_type
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = current_schema()
		  AND c.table_name = ANY($1)
		ORDER BY c.table_name, c.ordinal_position
	`, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("DescribeRelations: querying information_schema: %w", err)
	}

	return groupColumns(names, rows), nil
}

// groupColumns folds column rows into one schema per relation, in the order
// of names.
func groupColumns(names []string, rows []columnRow) []agent.RelationSchema {
	byName := make(map[string]*agent.RelationSchema)
	for _, r := range rows {
		rs, ok := byName[r.Table]
		if !ok {
			kind := agent.KindTable
			if r.Kind == "VIEW" {
				kind = agent.KindView
			}
			rs = &agent.RelationSchema{Relation: agent.Relation{Name: r.Table, Kind: kind}}
			byName[r.Table] = rs
		}
		rs.Columns = append(rs.Columns, agent.Column{Name: r.Column, Type: r.DataType})
	}

	out := make([]agent.RelationSchema, 0, len(byName))
	for _, n := range names {
		if rs, ok := byName[n]; ok {
			out = append(out, *rs)
		}
	}
	return out
}

// Query implements agent.Warehouse. The statement is prepared and runs in a
// read-only transaction that is always rolled back, and reading stops after
// rowCap rows.
func (w *Warehouse) Query(ctx context.Context, query string, rowCap int) (agent.Result, error) {
	log := logger.FromContext(ctx)

	tx, err := w.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return agent.Result{}, fmt.Errorf("Query: begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	if w.statementTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", w.statementTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return agent.Result{}, fmt.Errorf("Query: setting statement timeout: %w", err)
		}
	}

	// Preparing sends the query through the extended protocol, where the
	// server refuses more than one statement. Driver errors stay unwrapped:
	// their text is shown to the repair step.
	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return agent.Result{}, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryxContext(ctx)
	if err != nil {
		return agent.Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return agent.Result{}, fmt.Errorf("Query: reading columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return agent.Result{}, fmt.Errorf("Query: reading column types: %w", err)
	}
	dbTypes := make(map[string]string, len(types))
	for _, ct := range types {
		dbTypes[ct.Name()] = ct.DatabaseTypeName()
	}

	res := agent.Result{Columns: columns, Rows: []map[string]interface{}{}}
	for rows.Next() {
		if rowCap > 0 && len(res.Rows) == rowCap {
			res.Truncated = true
			break
		}
		row := make(map[string]interface{}, len(columns))
		if err := rows.MapScan(row); err != nil {
			return agent.Result{}, fmt.Errorf("Query: scanning row: %w", err)
		}
		for col, v := range row {
			row[col] = normalizeValue(dbTypes[col], v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return agent.Result{}, err
	}

	log.Debug().
		Int("rows", len(res.Rows)).
		Bool("truncated", res.Truncated).
		Msg("Query: executed agent query")
	return res, nil
}

// normalizeValue turns driver values into types that render and serialize
// well: NUMERIC becomes decimal.Decimal, DATE becomes civil.Date and other
// byte slices become strings.
func normalizeValue(dbType string, v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		if dbType == "NUMERIC" {
			if d, err := decimal.NewFromString(string(val)); err == nil {
				return d
			}
		}
		return string(val)
	case time.Time:
		if dbType == "DATE" {
			return civil.DateOf(val)
		}
		return val
	default:
		return v
	}
}

// Ensure Warehouse implements agent.Warehouse.
var _ agent.Warehouse = (*Warehouse)(nil)
