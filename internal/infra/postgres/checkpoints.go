package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"github.com/jmoiron/sqlx"
)

// CheckpointStore keeps agent conversation state in agent_checkpoints, one
// JSONB document per thread.
type CheckpointStore struct {
	db *sqlx.DB
}

// NewCheckpointStore returns a store backed by db.
func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Put implements agent.CheckpointStore.
func (c *CheckpointStore) Put(ctx context.Context, threadID string, s agent.State) error {
	return PutCheckpointWithDB(ctx, c.db, threadID, s)
}

// Get implements agent.CheckpointStore.
func (c *CheckpointStore) Get(ctx context.Context, threadID string) (agent.State, bool, error) {
	return GetCheckpointWithDB(ctx, c.db, threadID)
}

// Delete removes the checkpoint of threadID, if any.
func (c *CheckpointStore) Delete(ctx context.Context, threadID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM agent_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("DeleteCheckpoint: %w", err)
	}
	return nil
}

// PutCheckpointWithDB writes s as the latest checkpoint of threadID.
func PutCheckpointWithDB(ctx context.Context, db sqlx.ExecerContext, threadID string, s agent.State) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("PutCheckpoint: encoding state: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO agent_checkpoints (thread_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, threadID, doc); err != nil {
		return fmt.Errorf("PutCheckpoint: upserting: %w", err)
	}
	return nil
}

// GetCheckpointWithDB reads the checkpoint of threadID. The bool is false
// when the thread has none.
func GetCheckpointWithDB(ctx context.Context, db sqlx.QueryerContext, threadID string) (agent.State, bool, error) {
	var doc []byte
	err := sqlx.GetContext(ctx, db, &doc, `SELECT state FROM agent_checkpoints WHERE thread_id = $1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.State{}, false, nil
	}
	if err != nil {
		return agent.State{}, false, fmt.Errorf("GetCheckpoint: querying: %w", err)
	}

	var s agent.State
	if err := json.Unmarshal(doc, &s); err != nil {
		return agent.State{}, false, fmt.Errorf("GetCheckpoint: decoding state: %w", err)
	}
	return s, true, nil
}

// Ensure CheckpointStore implements agent.CheckpointStore.
var _ agent.CheckpointStore = (*CheckpointStore)(nil)
