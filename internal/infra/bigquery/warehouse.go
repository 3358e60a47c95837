// Package bigquery lets the agent answer questions from a BigQuery dataset
// that mirrors the star schema.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/dvloznov/finance-analyst/internal/logger"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"
)

// numericScale is the fixed scale of BigQuery NUMERIC values.
const numericScale = 9

// ErrNotReadOnly is returned when a dry run reports a statement other than SELECT.
var ErrNotReadOnly = errors.New("statement is not a read-only query")

// Warehouse implements agent.Warehouse on a single BigQuery dataset.
type Warehouse struct {
	client         *bigquery.Client
	projectID      string
	datasetID      string
	jobTimeout     time.Duration
	maxBytesBilled int64
}

// Option configures a Warehouse.
type Option func(*Warehouse)

// WithJobTimeout sets a best-effort deadline on every query job.
func WithJobTimeout(d time.Duration) Option {
	return func(w *Warehouse) { w.jobTimeout = d }
}

// WithMaxBytesBilled fails queries that would scan more than n bytes.
func WithMaxBytesBilled(n int64) Option {
	return func(w *Warehouse) { w.maxBytesBilled = n }
}

// NewWarehouse creates a BigQuery client for projectID. Close releases it.
func NewWarehouse(ctx context.Context, projectID, datasetID string, opts ...Option) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewWarehouse: bigquery client: %w", err)
	}
	return NewWarehouseWithClient(client, projectID, datasetID, opts...), nil
}

// NewWarehouseWithClient wraps an existing client.
func NewWarehouseWithClient(client *bigquery.Client, projectID, datasetID string, opts ...Option) *Warehouse {
	w := &Warehouse{client: client, projectID: projectID, datasetID: datasetID}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Close closes the BigQuery client connection.
func (w *Warehouse) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// Dialect implements agent.Warehouse.
func (w *Warehouse) Dialect() string { return "BigQuery GoogleSQL" }

// infoSchema returns the fully qualified INFORMATION_SCHEMA view name.
func (w *Warehouse) infoSchema(view string) string {
	return fmt.Sprintf("`%s.%s.INFORMATION_SCHEMA.%s`", w.projectID, w.datasetID, view)
}

func (w *Warehouse) query(sql string) *bigquery.Query {
	q := w.client.Query(sql)
	q.DefaultProjectID = w.projectID
	q.DefaultDatasetID = w.datasetID
	if w.jobTimeout > 0 {
		q.JobTimeout = w.jobTimeout
	}
	if w.maxBytesBilled > 0 {
		q.MaxBytesBilled = w.maxBytesBilled
	}
	return q
}

type relationRow struct {
	Name string `bigquery:"table_name"`
	Type string `bigquery:"table_type"`
}

// ListRelations implements agent.Warehouse.
func (w *Warehouse) ListRelations(ctx context.Context) ([]agent.Relation, error) {
	q := w.query(fmt.Sprintf(`
		SELECT table_name, table_type
		FROM %s
		ORDER BY table_name
	`, w.infoSchema("TABLES")))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRelations: query read: %w", err)
	}

	var rels []agent.Relation
	for {
		var r relationRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRelations: iter next: %w", err)
		}
		rels = append(rels, agent.Relation{Name: r.Name, Kind: relationKind(r.Type)})
	}
	return rels, nil
}

type columnRow struct {
	Table    string `bigquery:"table_name"`
	Type     string `bigquery:"table_type"`
	Column   string `bigquery:"column_name"`
	DataType string `bigquery:"data_type"`
}

// DescribeRelations implements agent.Warehouse. Unknown names are skipped.
func (w *Warehouse) DescribeRelations(ctx context.Context, names []string) ([]agent.RelationSchema, error) {
	if len(names) == 0 {
		return nil, nil
	}

	q := w.query(fmt.Sprintf(`
		SELECT c.table_name, t.table_type, c.column_name, c.data_type
		FROM %s c
		JOIN %s t USING (table_name)
		WHERE c.table_name IN UNNEST(@names)
		ORDER BY c.table_name, c.ordinal_position
	`, w.infoSchema("COLUMNS"), w.infoSchema("TABLES")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "names", Value: names},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("DescribeRelations: query read: %w", err)
	}

	var rows []columnRow
	for {
		var r columnRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("DescribeRelations: iter next: %w", err)
		}
		rows = append(rows, r)
	}

	return groupColumns(names, rows), nil
}

func groupColumns(names []string, rows []columnRow) []agent.RelationSchema {
	byName := make(map[string]*agent.RelationSchema)
	for _, r := range rows {
		rs, ok := byName[r.Table]
		if !ok {
			rs = &agent.RelationSchema{Relation: agent.Relation{Name: r.Table, Kind: relationKind(r.Type)}}
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

// relationKind maps INFORMATION_SCHEMA.TABLES.table_type. Materialized views
// count as views.
func relationKind(tableType string) agent.RelationKind {
	switch tableType {
	case "VIEW", "MATERIALIZED VIEW":
		return agent.KindView
	default:
		return agent.KindTable
	}
}

// Query implements agent.Warehouse. A dry run checks the statement type first,
// since BigQuery has no read-only session to run it in.
func (w *Warehouse) Query(ctx context.Context, sql string, rowCap int) (agent.Result, error) {
	log := logger.FromContext(ctx)

	dry := w.query(sql)
	dry.DryRun = true
	job, err := dry.Run(ctx)
	if err != nil {
		return agent.Result{}, err
	}
	if err := checkStatementType(job.LastStatus()); err != nil {
		return agent.Result{}, err
	}

	it, err := w.query(sql).Read(ctx)
	if err != nil {
		return agent.Result{}, err
	}

	res := agent.Result{Rows: []map[string]interface{}{}}
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return agent.Result{}, err
		}
		if res.Columns == nil {
			res.Columns = schemaColumns(it.Schema)
		}
		if rowCap > 0 && len(res.Rows) == rowCap {
			res.Truncated = true
			break
		}
		res.Rows = append(res.Rows, rowMap(res.Columns, values))
	}
	if res.Columns == nil {
		res.Columns = schemaColumns(it.Schema)
	}

	log.Debug().
		Int("rows", len(res.Rows)).
		Bool("truncated", res.Truncated).
		Uint64("total_rows", it.TotalRows).
		Msg("Query: executed agent query")
	return res, nil
}

func checkStatementType(status *bigquery.JobStatus) error {
	if status == nil || status.Statistics == nil {
		return nil
	}
	stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics)
	if !ok || stats.StatementType == "" {
		return nil
	}
	if stats.StatementType != "SELECT" {
		return fmt.Errorf("%w: %s", ErrNotReadOnly, stats.StatementType)
	}
	return nil
}

func schemaColumns(schema bigquery.Schema) []string {
	cols := make([]string, 0, len(schema))
	for _, f := range schema {
		cols = append(cols, f.Name)
	}
	return cols
}

func rowMap(columns []string, values []bigquery.Value) map[string]interface{} {
	row := make(map[string]interface{}, len(columns))
	for i, col := range columns {
		if i < len(values) {
			row[col] = normalizeValue(values[i])
		} else {
			row[col] = nil
		}
	}
	return row
}

// normalizeValue converts NUMERIC and BIGNUMERIC values to decimal.Decimal so
// amounts render the same as on the Postgres backend.
func normalizeValue(v bigquery.Value) interface{} {
	switch val := v.(type) {
	case *big.Rat:
		if val == nil {
			return nil
		}
		d, err := decimal.NewFromString(val.FloatString(numericScale))
		if err != nil {
			return val.FloatString(numericScale)
		}
		return d
	case []byte:
		return string(val)
	default:
		return v
	}
}

var _ agent.Warehouse = (*Warehouse)(nil)
