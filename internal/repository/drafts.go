package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"chat-order/internal/entity"
	"chat-order/internal/sharding"
)

// DraftRepository keeps the last pushed cart of each session.
type DraftRepository struct {
	dbShards []*sql.DB
	router   *sharding.ShardRouter
}

func NewDraftRepository(dbShards []*sql.DB, router *sharding.ShardRouter) *DraftRepository {
	return &DraftRepository{dbShards, router}
}

// PutDraft replaces the lines of draft.SessionID. The first writer of a
// session owns it; a write from another owner leaves the row untouched.
func (r *DraftRepository) PutDraft(ctx context.Context, draft entity.Draft) error {
	db := r.dbShards[r.router.GetShard(draft.SessionID)]

	lines := draft.Lines
	if lines == nil {
		lines = []entity.LineRequest{}
	}
	payload, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	query := `INSERT INTO drafts (session_id, owner_id, line_set, updated_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			line_set = IF(owner_id = VALUES(owner_id), VALUES(line_set), line_set),
			updated_at = IF(owner_id = VALUES(owner_id), VALUES(updated_at), updated_at)`
	_, err = db.ExecContext(ctx, query, draft.SessionID, draft.OwnerID, string(payload), time.Now().UTC())
	return err
}

// GetDraft returns the draft of sessionID, nil when none was pushed.
func (r *DraftRepository) GetDraft(ctx context.Context, sessionID string) (*entity.Draft, error) {
	db := r.dbShards[r.router.GetShard(sessionID)]

	draft := &entity.Draft{SessionID: sessionID}
	var payload []byte
	err := db.QueryRowContext(ctx, `SELECT owner_id, line_set FROM drafts WHERE session_id = ?`, sessionID).Scan(&draft.OwnerID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &draft.Lines); err != nil {
		return nil, err
	}
	return draft, nil
}
