package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by stores for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session identifies one visitor's conversation.
type Session struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// Entry is one answered question.
type Entry struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	SQL      string    `json:"sql,omitempty"`
	AskedAt  time.Time `json:"askedAt"`
}

// Store persists sessions and their entries in insertion order.
type Store interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id uuid.UUID) (Session, bool, error)
	Append(ctx context.Context, id uuid.UUID, entry Entry) error
	List(ctx context.Context, id uuid.UUID) ([]Entry, error)
}
