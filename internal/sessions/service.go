// Package sessions manages research sessions: named groupings of source
// documents and the synthesis operations performed for one goal.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/loom/internal/apperr"
	"github.com/starford/loom/internal/models"
	"github.com/starford/loom/internal/store"
)

// CreateInput describes a new session.
type CreateInput struct {
	ProjectID         string
	UserID            string
	Name              string
	SourceDocumentIDs []string
	TargetDocumentID  *string
	Metadata          map[string]any
}

// Service is the session manager.
type Service struct {
	db     *store.DB
	logger *slog.Logger
}

// NewService creates a new session manager.
func NewService(db *store.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// Create opens an active session. Referenced documents must be mirrored.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.ResearchSession, error) {
	sess := &models.ResearchSession{
		ProjectID:         strings.TrimSpace(in.ProjectID),
		UserID:            strings.TrimSpace(in.UserID),
		Name:              strings.TrimSpace(in.Name),
		SourceDocumentIDs: uniq(in.SourceDocumentIDs),
		TargetDocumentID:  in.TargetDocumentID,
		Status:            models.SessionActive,
		Metadata:          in.Metadata,
	}
	if err := sess.Validate(); err != nil {
		return nil, apperr.Invalid("session", err.Error())
	}
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := requireDocuments(ctx, tx, sess); err != nil {
			return err
		}
		return tx.InsertSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session created",
		slog.String("session_id", sess.ID),
		slog.String("project_id", sess.ProjectID))
	return sess, nil
}

// Get returns a session.
func (s *Service) Get(ctx context.Context, id string) (*models.ResearchSession, error) {
	return s.db.GetSession(ctx, id)
}

// List returns sessions of a project, newest first. An empty project lists all.
func (s *Service) List(ctx context.Context, projectID string) ([]models.ResearchSession, error) {
	return s.db.ListSessions(ctx, projectID)
}

// AddSourceDocuments appends documents to an active session, ignoring ones
// already present.
func (s *Service) AddSourceDocuments(ctx context.Context, id string, documentIDs []string) (*models.ResearchSession, error) {
	return s.mutate(ctx, id, func(sess *models.ResearchSession) error {
		if sess.Status != models.SessionActive {
			return closed(sess)
		}
		sess.SourceDocumentIDs = uniq(append(sess.SourceDocumentIDs, documentIDs...))
		return nil
	})
}

// SetTarget points an active session at the document syntheses go to.
func (s *Service) SetTarget(ctx context.Context, id, documentID string) (*models.ResearchSession, error) {
	return s.mutate(ctx, id, func(sess *models.ResearchSession) error {
		if sess.Status != models.SessionActive {
			return closed(sess)
		}
		documentID = strings.TrimSpace(documentID)
		if documentID == "" {
			sess.TargetDocumentID = nil
			return nil
		}
		sess.TargetDocumentID = &documentID
		return nil
	})
}

// Transition moves a session to completed or abandoned. Both are terminal.
func (s *Service) Transition(ctx context.Context, id string, next models.SessionStatus) (*models.ResearchSession, error) {
	if !next.Valid() {
		return nil, apperr.Invalidf("status", "unknown status %q", next)
	}
	sess, err := s.mutate(ctx, id, func(sess *models.ResearchSession) error {
		if !sess.Status.CanTransition(next) {
			return fmt.Errorf("%w: session %s cannot move from %s to %s", apperr.ErrConflict, sess.ID, sess.Status, next)
		}
		sess.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("session status changed",
		slog.String("session_id", id),
		slog.String("status", string(next)))
	return sess, nil
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*models.ResearchSession) error) (*models.ResearchSession, error) {
	var out *models.ResearchSession
	err := s.db.WithTx(ctx, func(tx *store.Tx) error {
		sess, err := tx.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := requireDocuments(ctx, tx, sess); err != nil {
			return err
		}
		if err := tx.UpdateSession(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

// requireDocuments checks that every document a session names is mirrored.
func requireDocuments(ctx context.Context, tx *store.Tx, sess *models.ResearchSession) error {
	ids := append([]string{}, sess.SourceDocumentIDs...)
	if sess.TargetDocumentID != nil && *sess.TargetDocumentID != "" {
		ids = append(ids, *sess.TargetDocumentID)
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := tx.DocumentsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return apperr.NotFound("document", missing...)
	}
	return nil
}

func closed(sess *models.ResearchSession) error {
	return fmt.Errorf("%w: session %s is %s", apperr.ErrConflict, sess.ID, sess.Status)
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
