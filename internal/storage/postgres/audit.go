package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digcoord/digcoord/internal/types"
)

// appendAudit inserts one append-only audit row. There is no update or
// delete path for audit_logs anywhere in this package.
func appendAudit(ctx context.Context, q querier, entry *types.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return fmt.Errorf("postgres: encode audit before: %w", err)
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return fmt.Errorf("postgres: encode audit after: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (id, entity_id, actor_id, action, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.EntityID, entry.ActorID, entry.Action, beforeJSON, afterJSON, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append audit: %w", err)
	}
	return nil
}

// AppendAudit writes one audit entry outside a transaction.
func (s *Store) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	return appendAudit(ctx, s.pool, entry)
}

func (t *storeTx) AppendAudit(ctx context.Context, entry *types.AuditEntry) error {
	return appendAudit(ctx, t.tx, entry)
}
