package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/sqlassistant/internal/domain/conversation"
)

// ValkeyStore persists sessions in Valkey: a string key per session plus an RPUSH list of entries.
// Both keys share an idle TTL that is refreshed on every append.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyStore constructs a store backed by Valkey.
func NewValkeyStore(client valkey.Client, prefix string, ttl time.Duration) *ValkeyStore {
	if prefix == "" {
		prefix = "sqlassistant"
	}
	if ttl > 0 && ttl < time.Second {
		ttl = time.Second
	}
	return &ValkeyStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *ValkeyStore) Create(ctx context.Context, session conversation.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	builder := s.client.B().Set().Key(s.sessionKey(session.ID)).Value(string(payload))
	var cmd valkey.Completed
	if s.ttl > 0 {
		cmd = builder.Nx().Ex(s.ttl).Build()
	} else {
		cmd = builder.Nx().Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil && !valkey.IsValkeyNil(err) {
		return err
	}
	return nil
}

func (s *ValkeyStore) Get(ctx context.Context, id uuid.UUID) (conversation.Session, bool, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.sessionKey(id)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return conversation.Session{}, false, nil
		}
		return conversation.Session{}, false, err
	}
	var session conversation.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return conversation.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return session, true, nil
}

func (s *ValkeyStore) Append(ctx context.Context, id uuid.UUID, entry conversation.Entry) error {
	exists, err := s.client.Do(ctx, s.client.B().Exists().Key(s.sessionKey(id)).Build()).AsInt64()
	if err != nil {
		return err
	}
	if exists == 0 {
		return conversation.ErrSessionNotFound
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	cmds := valkey.Commands{
		s.client.B().Rpush().Key(s.entriesKey(id)).Element(string(payload)).Build(),
	}
	if s.ttl > 0 {
		seconds := int64(s.ttl / time.Second)
		cmds = append(cmds,
			s.client.B().Expire().Key(s.sessionKey(id)).Seconds(seconds).Build(),
			s.client.B().Expire().Key(s.entriesKey(id)).Seconds(seconds).Build(),
		)
	}
	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ValkeyStore) List(ctx context.Context, id uuid.UUID) ([]conversation.Entry, error) {
	raw, err := s.client.Do(ctx, s.client.B().Lrange().Key(s.entriesKey(id)).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return []conversation.Entry{}, nil
		}
		return nil, err
	}
	out := make([]conversation.Entry, 0, len(raw))
	for _, item := range raw {
		var entry conversation.Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *ValkeyStore) sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *ValkeyStore) entriesKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:session:%s:entries", s.prefix, id)
}

var _ conversation.Store = (*ValkeyStore)(nil)
