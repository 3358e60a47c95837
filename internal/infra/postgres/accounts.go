package postgres

import (
	"database/sql"
	"time"
)

// AccountRow is one row of dim_account. AccountID is the business key: the
// hex digest computed by the transformer.
type AccountRow struct {
	AccountKey int `db:"account_key"` // SERIAL, assigned on first insert

	AccountID         string         `db:"account_id"`          // REQUIRED, unique
	AccountName       string         `db:"account_name"`        // REQUIRED
	AccountType       string         `db:"account_type"`        // REQUIRED (revenue|expense|cogs)
	AccountCategory   string         `db:"account_category"`    // REQUIRED
	ParentAccountName sql.NullString `db:"parent_account_name"` // NULLABLE
	SourceSystem      string         `db:"source_system"`       // REQUIRED
	SourceAccountID   sql.NullString `db:"source_account_id"`   // NULLABLE

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SourceRow is one row of dim_source.
type SourceRow struct {
	SourceKey         int            `db:"source_key"`
	SourceName        string         `db:"source_name"`
	SourceDescription sql.NullString `db:"source_description"`
}
