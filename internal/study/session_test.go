package study

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

type fakeRecords struct {
	createErr    error
	submitErr    error
	created      []string
	demographics []string
	responses    []string
	completed    []string
}

func (f *fakeRecords) CreateSessionRecord(_ context.Context, sessionID, _ string, _ bool, _ time.Time) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, sessionID)
	return "rec_" + sessionID, nil
}

func (f *fakeRecords) SubmitDemographics(_ context.Context, sessionID string, _ any) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.demographics = append(f.demographics, sessionID)
	return nil
}

func (f *fakeRecords) SubmitResponse(_ context.Context, _, _, recordKey string, _ any) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.responses = append(f.responses, recordKey)
	return nil
}

func (f *fakeRecords) CompleteSession(_ context.Context, sessionID, _ string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.completed = append(f.completed, sessionID)
	return nil
}

func newTestManager(t *testing.T, rec *fakeRecords) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewSessionStore(client, time.Hour)
	if rec == nil {
		return NewManager(store, nil, nil, logging.Default(), nil)
	}
	return NewManager(store, rec, nil, logging.Default(), nil)
}

func validDemographics() Demographics {
	return Demographics{
		Age:                     "25-34",
		BioExperience:           "none",
		ChemExperience:          "none",
		CybersecurityExperience: "professional",
		ProgrammingExperience:   "expert",
		Background:              "computer_science",
		AISafetyExposure:        true,
	}
}

func TestManagerCreateAndGet(t *testing.T) {
	rec := &fakeRecords{}
	m := newTestManager(t, rec)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, true)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, GameTypeDetection, sess.GameType)
	assert.True(t, sess.IsDemo)
	assert.Equal(t, StatusInProgress, sess.CompletionStatus)
	assert.Equal(t, "rec_"+sess.ID, sess.RemoteRecordID)
	assert.Empty(t, sess.Responses)

	loaded, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, []string{sess.ID}, rec.created)
}

func TestManagerCreateSurvivesMirrorFailure(t *testing.T) {
	rec := &fakeRecords{createErr: errors.New("remote down")}
	m := newTestManager(t, rec)

	sess, err := m.Create(context.Background(), GameTypeElicitation, false)
	require.NoError(t, err)
	assert.Empty(t, sess.RemoteRecordID)
}

func TestManagerGetUnknownSession(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerSetDemographicsOnce(t *testing.T) {
	rec := &fakeRecords{}
	m := newTestManager(t, rec)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, false)
	require.NoError(t, err)

	updated, err := m.SetDemographics(ctx, sess.ID, validDemographics())
	require.NoError(t, err)
	require.NotNil(t, updated.Demographics)
	assert.Equal(t, "25-34", updated.Demographics.Age)
	assert.Equal(t, []string{sess.ID}, rec.demographics)

	_, err = m.SetDemographics(ctx, sess.ID, validDemographics())
	assert.ErrorIs(t, err, ErrDemographicsAlreadySet)
}

func TestManagerSetDemographicsValidates(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, false)
	require.NoError(t, err)

	incomplete := validDemographics()
	incomplete.Background = ""
	_, err = m.SetDemographics(ctx, sess.ID, incomplete)
	assert.ErrorIs(t, err, ErrDemographicsIncomplete)

	// The sentinel record passes without categorical answers.
	_, err = m.SetDemographics(ctx, sess.ID, SkippedDemographics())
	assert.NoError(t, err)
}

func TestManagerAppendResponseGrowsLog(t *testing.T) {
	rec := &fakeRecords{}
	m := newTestManager(t, rec)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, false)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		updated, err := m.AppendResponse(ctx, sess.ID, Response{
			GameType:  GameTypeDetection,
			Detection: &DetectionResponse{TurnID: fmt.Sprintf("turn_%03d", i), TurnNumber: i},
		})
		require.NoError(t, err)
		assert.Len(t, updated.Responses, i)
	}
	assert.Len(t, rec.responses, 3)
	assert.Contains(t, rec.responses[0], "det_"+sess.ID+"_turn_001")
}

func TestManagerAppendResponseSurvivesMirrorFailure(t *testing.T) {
	rec := &fakeRecords{}
	m := newTestManager(t, rec)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, false)
	require.NoError(t, err)

	rec.submitErr = errors.New("remote down")
	updated, err := m.AppendResponse(ctx, sess.ID, Response{
		GameType:  GameTypeDetection,
		Detection: &DetectionResponse{TurnID: "turn_001"},
	})
	require.NoError(t, err)
	assert.Len(t, updated.Responses, 1)
}

func TestManagerCompleteIsIdempotent(t *testing.T) {
	rec := &fakeRecords{}
	m := newTestManager(t, rec)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeElicitation, false)
	require.NoError(t, err)

	done, err := m.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.CompletionStatus)
	require.NotNil(t, done.EndTime)

	again, err := m.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, done.EndTime.Unix(), again.EndTime.Unix())
	assert.Len(t, rec.completed, 1)
}

func TestManagerCompletedSessionRejectsWrites(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, false)
	require.NoError(t, err)
	_, err = m.Complete(ctx, sess.ID)
	require.NoError(t, err)

	_, err = m.SetDemographics(ctx, sess.ID, validDemographics())
	assert.ErrorIs(t, err, ErrSessionCompleted)
	_, err = m.AppendResponse(ctx, sess.ID, Response{GameType: GameTypeDetection})
	assert.ErrorIs(t, err, ErrSessionCompleted)
}

func TestManagerClearRemovesSessionAndState(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, GameTypeDetection, false)
	require.NoError(t, err)
	require.NoError(t, m.SaveState(ctx, sess.ID, &GameState{Position: 2}))

	require.NoError(t, m.Clear(ctx, sess.ID))

	_, err = m.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	state, err := m.LoadState(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, state)
}
