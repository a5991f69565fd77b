package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
)

const sessionColumns = `id, project_id, user_id, name, source_document_ids, target_document_id, status, metadata, created_at, updated_at`

// InsertSession writes a new research session.
func (r repo) InsertSession(ctx context.Context, s *models.ResearchSession) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = models.SessionActive
	}
	s.Refresh()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO research_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.ProjectID, s.UserID, s.Name, encodeJSON(s.SourceDocumentIDs, "[]"),
		nullable(s.TargetDocumentID), string(s.Status), encodeJSON(s.Metadata, "{}"), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by id.
func (r repo) GetSession(ctx context.Context, id string) (*models.ResearchSession, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM research_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session: %w", err)
	}
	return s, nil
}

// ListSessions returns sessions, optionally restricted to one project, newest first.
func (r repo) ListSessions(ctx context.Context, projectID string) ([]models.ResearchSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM research_sessions`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	out := []models.ResearchSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateSession persists the mutable fields of a session.
func (r repo) UpdateSession(ctx context.Context, s *models.ResearchSession) error {
	s.UpdatedAt = time.Now().UTC()
	s.Refresh()
	res, err := r.q.ExecContext(ctx, `
		UPDATE research_sessions
		SET name = ?, source_document_ids = ?, target_document_id = ?, status = ?, metadata = ?, updated_at = ?
		WHERE id = ?
	`, s.Name, encodeJSON(s.SourceDocumentIDs, "[]"), nullable(s.TargetDocumentID), string(s.Status),
		encodeJSON(s.Metadata, "{}"), s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("store: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("session", s.ID)
	}
	return nil
}

func scanSession(s rowScanner) (*models.ResearchSession, error) {
	var (
		rs     models.ResearchSession
		docs   string
		target sql.NullString
		status string
		meta   string
	)
	if err := s.Scan(&rs.ID, &rs.ProjectID, &rs.UserID, &rs.Name, &docs, &target, &status,
		&meta, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
		return nil, err
	}
	rs.SourceDocumentIDs = decodeStrings(docs)
	if target.Valid {
		rs.TargetDocumentID = ptr(target.String)
	}
	rs.Status = models.SessionStatus(status)
	rs.Metadata = decodeMap(meta)
	rs.Refresh()
	return &rs, nil
}
