package study

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oversightlab/llm-safety-study/internal/questions"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

func newDetectionFixture(t *testing.T, demo bool) (*DetectionController, *Manager, *Session) {
	t.Helper()
	source, err := questions.Load()
	require.NoError(t, err)

	m := newTestManager(t, nil)
	sess, err := m.Create(context.Background(), GameTypeDetection, demo)
	require.NoError(t, err)
	c := NewDetectionController(m, source, logging.Default())
	return c, m, sess
}

func TestDetectionCurrentTurnInitializes(t *testing.T) {
	c, m, sess := newDetectionFixture(t, false)
	ctx := context.Background()

	view, err := c.CurrentTurn(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Position)
	assert.Equal(t, 1, view.Turn.TurnNumber)
	assert.Greater(t, view.Total, 1)
	assert.Empty(t, view.ViewedIDs)
	assert.NotEmpty(t, view.Turn.Questions)

	state, err := m.LoadState(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Position)
	require.NotNil(t, state.Turn)
	assert.Equal(t, view.Turn.ID, state.Turn.TurnID)
}

func TestDetectionCurrentTurnStableAcrossReload(t *testing.T) {
	c, _, sess := newDetectionFixture(t, false)
	ctx := context.Background()

	first, err := c.CurrentTurn(ctx, sess)
	require.NoError(t, err)
	second, err := c.CurrentTurn(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, first.Turn.ID, second.Turn.ID)
}

func TestDetectionMarkViewed(t *testing.T) {
	c, _, sess := newDetectionFixture(t, false)
	ctx := context.Background()

	view, err := c.CurrentTurn(ctx, sess)
	require.NoError(t, err)
	qid := view.Turn.Questions[0].ID

	require.NoError(t, c.MarkViewed(ctx, sess, qid))
	// Marking twice stays a set, not a counter.
	require.NoError(t, c.MarkViewed(ctx, sess, qid))

	view, err = c.CurrentTurn(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, []string{qid}, view.ViewedIDs)

	err = c.MarkViewed(ctx, sess, "not-in-turn")
	assert.Error(t, err)
}

func TestDetectionSubmitValidation(t *testing.T) {
	c, _, sess := newDetectionFixture(t, false)
	ctx := context.Background()

	_, err := c.Submit(ctx, sess, DetectionSubmission{Assessment: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidAssessment)

	_, err = c.Submit(ctx, sess, DetectionSubmission{Assessment: "normal", Confidence: 11})
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	_, err = c.Submit(ctx, sess, DetectionSubmission{TurnID: "other-turn", Assessment: "normal"})
	assert.ErrorIs(t, err, ErrTurnMismatch)
}

func TestDetectionSubmitDefaultsConfidence(t *testing.T) {
	c, _, sess := newDetectionFixture(t, false)
	ctx := context.Background()

	result, err := c.Submit(ctx, sess, DetectionSubmission{Assessment: "normal"})
	require.NoError(t, err)
	assert.Equal(t, defaultConfidence, result.Response.Confidence)
}

func TestDetectionSubmitAdvancesAndScores(t *testing.T) {
	c, m, sess := newDetectionFixture(t, true)
	ctx := context.Background()

	view, err := c.CurrentTurn(ctx, sess)
	require.NoError(t, err)
	total := view.Total
	require.Equal(t, 3, total)

	for i := 1; i <= total; i++ {
		require.NoError(t, c.MarkViewed(ctx, sess, view.Turn.Questions[0].ID))

		// Submit the ground truth so every judgement is correct.
		result, err := c.Submit(ctx, sess, DetectionSubmission{
			TurnID:     view.Turn.ID,
			Assessment: string(view.Turn.ModelType),
			Confidence: 7,
		})
		require.NoError(t, err)
		assert.True(t, result.Response.IsCorrect)
		assert.Equal(t, i, result.Response.TurnNumber)
		assert.Equal(t, []string{view.Turn.Questions[0].ID}, result.Response.QuestionsExamined)

		if i < total {
			require.NotNil(t, result.Next)
			assert.False(t, result.Done)
			assert.Equal(t, i+1, result.Next.Position)
			assert.Empty(t, result.Next.ViewedIDs)
			view = *result.Next
		} else {
			assert.True(t, result.Done)
			assert.Nil(t, result.Next)
		}
	}

	final, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, final.Responses, total)

	score := ComputeScore(final)
	require.NotNil(t, score.Detection)
	assert.Equal(t, 100, score.Detection.Accuracy)

	// The game is over; further submits are rejected.
	_, err = c.Submit(ctx, sess, DetectionSubmission{Assessment: "normal"})
	assert.ErrorIs(t, err, ErrTurnFinished)
}

func TestDetectionRejectsElicitationSession(t *testing.T) {
	source, err := questions.Load()
	require.NoError(t, err)
	m := newTestManager(t, nil)
	sess, err := m.Create(context.Background(), GameTypeElicitation, false)
	require.NoError(t, err)

	c := NewDetectionController(m, source, logging.Default())
	_, err = c.CurrentTurn(context.Background(), sess)
	assert.ErrorIs(t, err, ErrWrongGameType)
}
