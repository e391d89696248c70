package study

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/oversightlab/llm-safety-study/internal/chat"
)

// ErrSessionNotFound is returned when no session exists for the given id.
var ErrSessionNotFound = errors.New("study: session not found")

// ConversationState is the transient per-question chat-loop state for an
// elicitation session. Displayed is the full transcript including markers;
// Model is the model-facing history, truncated on context reset.
type ConversationState struct {
	QuestionID   string                `json:"questionId"`
	Displayed    []ConversationMessage `json:"displayed"`
	Model        []chat.Message        `json:"model"`
	MessageCount int                   `json:"messageCount"`
	Variant      chat.PromptVariant    `json:"variant"`
	StartedAt    time.Time             `json:"startedAt"`
}

// TurnState is the transient per-turn state for a detection session.
// Viewed records which question ids the participant has examined.
type TurnState struct {
	TurnID    string          `json:"turnId"`
	Viewed    map[string]bool `json:"viewed"`
	StartedAt time.Time       `json:"startedAt"`
}

// GameState tracks the participant's position in the sequence plus the
// in-progress item state. Exactly one of Turn or Conversation is set
// depending on the session's game type.
type GameState struct {
	Position     int                `json:"position"`
	Turn         *TurnState         `json:"turn,omitempty"`
	Conversation *ConversationState `json:"conversation,omitempty"`
}

// SessionStore persists sessions and their transient game state in Redis.
// Keys expire after the configured TTL so abandoned sessions clean
// themselves up.
type SessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewSessionStore builds a SessionStore. Panics on a nil client.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if client == nil {
		panic("study: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("study.internal.study.sessions"),
	}
}

func sessionKey(id string) string {
	return fmt.Sprintf("study_session:%s", id)
}

func stateKey(id string) string {
	return fmt.Sprintf("study_state:%s", id)
}

// Save persists the session, refreshing its TTL.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "study.save_session")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("study: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("study: failed to persist session: %w", err)
	}
	return nil
}

// Load retrieves a session by id, or ErrSessionNotFound.
func (s *SessionStore) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "study.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("study: failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("study: failed to decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session and its game state.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "study.delete_session")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id), stateKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("study: failed to delete session: %w", err)
	}
	return nil
}

// SaveState persists the transient game state for a session.
func (s *SessionStore) SaveState(ctx context.Context, sessionID string, state *GameState) error {
	ctx, span := s.tracer.Start(ctx, "study.save_state")
	defer span.End()

	data, err := json.Marshal(state)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("study: failed to marshal game state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(sessionID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("study: failed to persist game state: %w", err)
	}
	return nil
}

// LoadState retrieves the transient game state, or nil when none exists.
func (s *SessionStore) LoadState(ctx context.Context, sessionID string) (*GameState, error) {
	ctx, span := s.tracer.Start(ctx, "study.load_state")
	defer span.End()

	data, err := s.redis.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("study: failed to load game state: %w", err)
	}

	var state GameState
	if err := json.Unmarshal(data, &state); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("study: failed to decode game state: %w", err)
	}
	return &state, nil
}
