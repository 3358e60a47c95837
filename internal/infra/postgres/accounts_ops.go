package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// UpsertAccountWithDB inserts the account or, when its business key already
// exists, overwrites the descriptive fields. The surrogate key survives the
// overwrite and is returned either way.
func UpsertAccountWithDB(ctx context.Context, db sqlx.ExtContext, row *AccountRow) (int, error) {
	if row == nil {
		return 0, fmt.Errorf("UpsertAccount: nil row")
	}
	if row.AccountID == "" {
		return 0, fmt.Errorf("UpsertAccount: AccountID is required")
	}

	query, args, err := sqlx.Named(`
		INSERT INTO dim_account (
			account_id,
			account_name,
			account_type,
			account_category,
			parent_account_name,
			source_system,
			source_account_id
		)
		VALUES (
			:account_id,
			:account_name,
			:account_type,
			:account_category,
			:parent_account_name,
			:source_system,
			:source_account_id
		)
		ON CONFLICT (account_id) DO UPDATE SET
			account_name        = EXCLUDED.account_name,
			account_type        = EXCLUDED.account_type,
			account_category    = EXCLUDED.account_category,
			parent_account_name = EXCLUDED.parent_account_name,
			source_account_id   = COALESCE(EXCLUDED.source_account_id, dim_account.source_account_id),
			updated_at          = now()
		RETURNING account_key
	`, row)
	if err != nil {
		return 0, fmt.Errorf("UpsertAccount: binding parameters: %w", err)
	}

	var key int
	if err := sqlx.GetContext(ctx, db, &key, db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("UpsertAccount: executing upsert: %w", err)
	}

	row.AccountKey = key
	return key, nil
}

// FindAccountByIDWithDB looks an account up by its business key.
func FindAccountByIDWithDB(ctx context.Context, db sqlx.QueryerContext, accountID string) (*AccountRow, error) {
	var row AccountRow
	err := sqlx.GetContext(ctx, db, &row, `
		SELECT account_key, account_id, account_name, account_type, account_category,
		       parent_account_name, source_system, source_account_id, created_at, updated_at
		FROM dim_account
		WHERE account_id = $1
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccountByID: %w", err)
	}
	return &row, nil
}

// ListAccountsWithDB returns all accounts ordered by type and name.
func ListAccountsWithDB(ctx context.Context, db sqlx.QueryerContext) ([]*AccountRow, error) {
	var rows []*AccountRow
	if err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT account_key, account_id, account_name, account_type, account_category,
		       parent_account_name, source_system, source_account_id, created_at, updated_at
		FROM dim_account
		ORDER BY account_type, account_name
	`); err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return rows, nil
}

// UpsertSourceWithDB returns the surrogate key for the named source system,
// creating the row on first sight.
func UpsertSourceWithDB(ctx context.Context, db sqlx.QueryerContext, name, description string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("UpsertSource: name is required")
	}

	var key int
	err := sqlx.GetContext(ctx, db, &key, `
		INSERT INTO dim_source (source_name, source_description)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (source_name) DO UPDATE SET
			source_description = COALESCE(EXCLUDED.source_description, dim_source.source_description)
		RETURNING source_key
	`, name, description)
	if err != nil {
		return 0, fmt.Errorf("UpsertSource: %w", err)
	}
	return key, nil
}
