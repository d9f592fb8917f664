package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/digcoord/digcoord/internal/storage"
	"github.com/digcoord/digcoord/internal/types"
)

func insertComment(ctx context.Context, q querier, projectID, authorID, content, attachmentURL string) (*types.Comment, error) {
	trimmed, err := types.ValidateCommentContent(content)
	if err != nil {
		return nil, err
	}
	// The project must exist; comments never dangle.
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, projectID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: check project: %w", err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	c := &types.Comment{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		AuthorID:      authorID,
		Content:       trimmed,
		AttachmentURL: attachmentURL,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = q.Exec(ctx, `
		INSERT INTO project_comments (id, project_id, author_id, content, attachment_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.ProjectID, c.AuthorID, c.Content, c.AttachmentURL, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert comment: %w", err)
	}
	return c, nil
}

// AddComment validates, trims, and persists a comment.
func (s *Store) AddComment(ctx context.Context, projectID, authorID, content, attachmentURL string) (*types.Comment, error) {
	return insertComment(ctx, s.pool, projectID, authorID, content, attachmentURL)
}

func (t *storeTx) AddComment(ctx context.Context, projectID, authorID, content, attachmentURL string) (*types.Comment, error) {
	return insertComment(ctx, t.tx, projectID, authorID, content, attachmentURL)
}

// GetComments returns a project's comments oldest first.
func (s *Store) GetComments(ctx context.Context, projectID string) ([]*types.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, author_id, content, attachment_url, created_at
		FROM project_comments WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get comments: %w", err)
	}
	defer rows.Close()
	var out []*types.Comment
	for rows.Next() {
		var c types.Comment
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.AuthorID, &c.Content, &c.AttachmentURL, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
