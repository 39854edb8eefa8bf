// Package projection tracks per-projection checkpoints. Checkpoints are an
// advisory low-water-mark for replay tooling; correctness comes from the
// inbox, not from here.
package projection

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

type Checkpoint struct {
	ProjectionName string
	LastMessageID  string
	UpdatedAt      time.Time
}

type CheckpointStore struct {
	pool *db.Pool
}

func NewCheckpointStore(pool *db.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Advance records messageID as the latest handled by the projection. Runs in
// the subscriber's transaction so the checkpoint never outruns the side
// effects it describes.
func (s *CheckpointStore) Advance(ctx context.Context, tx pgx.Tx, projectionName, messageID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO projection_checkpoints (projection_name, last_message_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (projection_name)
		DO UPDATE SET last_message_id = EXCLUDED.last_message_id, updated_at = now()
	`, projectionName, messageID)
	return err
}

func (s *CheckpointStore) Get(ctx context.Context, projectionName string) (Checkpoint, bool, error) {
	var cp Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT projection_name, COALESCE(last_message_id, ''), updated_at
		FROM projection_checkpoints
		WHERE projection_name = $1
	`, projectionName).Scan(&cp.ProjectionName, &cp.LastMessageID, &cp.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}
