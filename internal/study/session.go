package study

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oversightlab/llm-safety-study/internal/observability/metrics"
	"github.com/oversightlab/llm-safety-study/internal/records"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

var (
	// ErrDemographicsAlreadySet is returned on a second demographics submit.
	ErrDemographicsAlreadySet = errors.New("study: demographics already submitted")
	// ErrSessionCompleted is returned when mutating a completed session.
	ErrSessionCompleted = errors.New("study: session already completed")
)

// Manager owns the session lifecycle. Redis is the authoritative store;
// the external record store and the archive are best-effort mirrors whose
// failures never surface to the participant.
type Manager struct {
	store   *SessionStore
	records records.Store
	archive *records.Archive
	logger  *logging.Logger
	metrics *metrics.StudyMetrics
	now     func() time.Time
}

// NewManager builds a Manager. store is required; records and archive may
// be nil, in which case mirroring is disabled.
func NewManager(store *SessionStore, rec records.Store, archive *records.Archive, logger *logging.Logger, m *metrics.StudyMetrics) *Manager {
	if store == nil {
		panic("study: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		store:   store,
		records: rec,
		archive: archive,
		logger:  logger.Component("study.sessions"),
		metrics: m,
		now:     time.Now,
	}
}

// Create starts a new session with a fresh id and mirrors its creation to
// the external record store.
func (m *Manager) Create(ctx context.Context, gameType GameType, isDemo bool) (*Session, error) {
	sess := &Session{
		ID:               uuid.NewString(),
		GameType:         gameType,
		IsDemo:           isDemo,
		StartTime:        m.now().UTC(),
		CompletionStatus: StatusInProgress,
		Responses:        []Response{},
	}

	if m.records != nil {
		recordID, err := m.records.CreateSessionRecord(ctx, sess.ID, string(gameType), isDemo, sess.StartTime)
		if err != nil {
			m.logger.Warn("failed to mirror session creation", "session_id", sess.ID, "error", err)
			m.metrics.ObserveMirrorFailure("create_session")
		} else {
			sess.RemoteRecordID = recordID
		}
	}

	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	m.metrics.ObserveSessionStarted(string(gameType), isDemo)
	m.logger.Info("session created", "session_id", sess.ID, "game_type", gameType, "demo", isDemo)
	return sess, nil
}

// Get loads a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Load(ctx, id)
}

// SetDemographics records the demographics exactly once and mirrors them.
func (m *Manager) SetDemographics(ctx context.Context, sessionID string, d Demographics) (*Session, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return nil, ErrSessionCompleted
	}
	if sess.Demographics != nil {
		return nil, ErrDemographicsAlreadySet
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	sess.Demographics = &d
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	if m.records != nil {
		if err := m.records.SubmitDemographics(ctx, sessionID, d); err != nil {
			m.logger.Warn("failed to mirror demographics", "session_id", sessionID, "error", err)
			m.metrics.ObserveMirrorFailure("submit_demographics")
		}
	}
	return sess, nil
}

// AppendResponse adds one response to the session log and mirrors it. The
// log only grows; existing entries are never rewritten.
func (m *Manager) AppendResponse(ctx context.Context, sessionID string, resp Response) (*Session, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return nil, ErrSessionCompleted
	}

	sess.Responses = append(sess.Responses, resp)
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}

	correct := false
	recordKey := ""
	switch {
	case resp.Detection != nil:
		correct = resp.Detection.IsCorrect
		recordKey = fmt.Sprintf("det_%s_%s", sessionID, resp.Detection.TurnID)
	case resp.Elicitation != nil:
		correct = resp.Elicitation.IsCorrect
		recordKey = fmt.Sprintf("elic_%s_%s", sessionID, resp.Elicitation.QuestionID)
	}
	m.metrics.ObserveResponseRecorded(string(resp.GameType), correct)

	if m.records != nil && recordKey != "" {
		if err := m.records.SubmitResponse(ctx, sessionID, string(resp.GameType), recordKey, resp); err != nil {
			m.logger.Warn("failed to mirror response", "session_id", sessionID, "record_key", recordKey, "error", err)
			m.metrics.ObserveMirrorFailure("submit_response")
		}
	}
	return sess, nil
}

// Complete marks the session finished. Completing an already completed
// session is a no-op so retried requests stay safe.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return sess, nil
	}

	end := m.now().UTC()
	sess.EndTime = &end
	sess.CompletionStatus = StatusCompleted
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	m.metrics.ObserveSessionCompleted(string(sess.GameType))
	m.logger.Info("session completed", "session_id", sessionID, "responses", len(sess.Responses))

	if m.records != nil {
		if err := m.records.CompleteSession(ctx, sessionID, sess.RemoteRecordID); err != nil {
			m.logger.Warn("failed to mirror session completion", "session_id", sessionID, "error", err)
			m.metrics.ObserveMirrorFailure("complete_session")
		}
	}
	if m.archive.Enabled() {
		if err := m.archive.ArchiveSession(ctx, sessionID, end, sess); err != nil {
			m.logger.Warn("failed to archive session", "session_id", sessionID, "error", err)
			m.metrics.ObserveMirrorFailure("archive_session")
		}
	}
	return sess, nil
}

// Clear removes the session and its game state.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID)
}

// LoadState exposes the transient game state for the controllers.
func (m *Manager) LoadState(ctx context.Context, sessionID string) (*GameState, error) {
	return m.store.LoadState(ctx, sessionID)
}

// SaveState persists the transient game state for the controllers.
func (m *Manager) SaveState(ctx context.Context, sessionID string, state *GameState) error {
	return m.store.SaveState(ctx, sessionID, state)
}
