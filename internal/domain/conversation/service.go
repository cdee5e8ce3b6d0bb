package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/sqlassistant/pkg/errors"
	"github.com/yanqian/sqlassistant/pkg/util"
)

// Service manages per-visitor conversation history.
type Service interface {
	Start(ctx context.Context) (Session, error)
	Resolve(ctx context.Context, id uuid.UUID) (Session, bool, error)
	Append(ctx context.Context, session Session, entry Entry) error
	// List returns entries most-recent-first.
	List(ctx context.Context, session Session) ([]Entry, error)
}

type service struct {
	store  Store
	logger *slog.Logger
}

// NewService wires the conversation domain.
func NewService(store Store, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{store: store, logger: logger.With("component", "conversation.service")}
}

func (s *service) Start(ctx context.Context) (Session, error) {
	session := Session{ID: uuid.New(), CreatedAt: util.NowUTC()}
	if err := s.store.Create(ctx, session); err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeSession, "failed to start session", err)
	}
	s.logger.Debug("session started", "session", session.ID)
	return session, nil
}

func (s *service) Resolve(ctx context.Context, id uuid.UUID) (Session, bool, error) {
	if id == uuid.Nil {
		return Session{}, false, nil
	}
	session, found, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, false, apperrors.Wrap(apperrors.CodeSession, "failed to load session", err)
	}
	return session, found, nil
}

func (s *service) Append(ctx context.Context, session Session, entry Entry) error {
	if strings.TrimSpace(entry.Question) == "" {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "question cannot be empty", nil)
	}
	if entry.AskedAt.IsZero() {
		entry.AskedAt = util.NowUTC()
	}
	if err := s.store.Append(ctx, session.ID, entry); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return apperrors.Wrap(apperrors.CodeSessionNotFound, "session expired", err)
		}
		return apperrors.Wrap(apperrors.CodeSession, "failed to record answer", err)
	}
	return nil
}

func (s *service) List(ctx context.Context, session Session) ([]Entry, error) {
	entries, err := s.store.List(ctx, session.ID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return []Entry{}, nil
		}
		return nil, apperrors.Wrap(apperrors.CodeSession, "failed to load history", err)
	}
	out := make([]Entry, len(entries))
	for i, entry := range entries {
		out[len(entries)-1-i] = entry
	}
	return out, nil
}
