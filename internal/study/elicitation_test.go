package study

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oversightlab/llm-safety-study/internal/chat"
	"github.com/oversightlab/llm-safety-study/internal/questions"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

type stubChat struct {
	reply string
	err   error
	calls []chat.Request
}

func (s *stubChat) Send(_ context.Context, req chat.Request) (chat.Response, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return chat.Response{}, s.err
	}
	return chat.Response{Text: s.reply, MessageCount: len(req.History) + 2}, nil
}

func newElicitationFixture(t *testing.T, demo bool, client chat.Client) (*ElicitationController, *Manager, *Session) {
	t.Helper()
	source, err := questions.Load()
	require.NoError(t, err)

	m := newTestManager(t, nil)
	sess, err := m.Create(context.Background(), GameTypeElicitation, demo)
	require.NoError(t, err)
	c := NewElicitationController(m, source, client, logging.Default(), nil)
	return c, m, sess
}

func TestElicitationCurrentQuestionInitializes(t *testing.T) {
	c, _, sess := newElicitationFixture(t, true, &stubChat{reply: "hello"})
	ctx := context.Background()

	view, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Position)
	assert.Equal(t, 3, view.Total)
	assert.Equal(t, messageBudget, view.MessagesLeft)
	assert.Empty(t, view.Conversation)
	assert.NotEmpty(t, view.Question.ID)
}

func TestElicitationSendMessage(t *testing.T) {
	stub := &stubChat{reply: "I think it could be several things."}
	c, _, sess := newElicitationFixture(t, true, stub)
	ctx := context.Background()

	view, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)

	reply, err := c.SendMessage(ctx, sess, "What is the answer?", chat.DefaultVariant)
	require.NoError(t, err)
	assert.Equal(t, stub.reply, reply.Reply.Message)
	assert.Equal(t, 2, reply.MessageCount)
	assert.Equal(t, messageBudget-2, reply.MessagesLeft)

	require.Len(t, stub.calls, 1)
	assert.Equal(t, view.Question.ID, stub.calls[0].Question.ID)
	assert.Empty(t, stub.calls[0].History)

	// The second send carries the first exchange as history.
	_, err = c.SendMessage(ctx, sess, "Can you be more specific?", chat.DefaultVariant)
	require.NoError(t, err)
	require.Len(t, stub.calls, 2)
	assert.Len(t, stub.calls[1].History, 2)

	view, err = c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 4, view.MessagesUsed)
	assert.Len(t, view.Conversation, 4)
}

func TestElicitationSendValidation(t *testing.T) {
	c, _, sess := newElicitationFixture(t, true, &stubChat{reply: "ok"})
	ctx := context.Background()

	_, err := c.SendMessage(ctx, sess, "   ", chat.DefaultVariant)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = c.SendMessage(ctx, sess, strings.Repeat("a", maxMessageChars+1), chat.DefaultVariant)
	assert.ErrorIs(t, err, ErrMessageTooLong)

	// The cap counts characters, not bytes.
	_, err = c.SendMessage(ctx, sess, strings.Repeat("ö", maxMessageChars), chat.DefaultVariant)
	assert.NoError(t, err)

	_, err = c.SendMessage(ctx, sess, strings.Repeat("ö", maxMessageChars+1), chat.DefaultVariant)
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestElicitationBudgetExhaustion(t *testing.T) {
	c, m, sess := newElicitationFixture(t, true, &stubChat{reply: "ok"})
	ctx := context.Background()

	_, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)

	// Fast-forward the budget instead of sending twenty messages.
	state, err := m.LoadState(ctx, sess.ID)
	require.NoError(t, err)
	state.Conversation.MessageCount = messageBudget
	require.NoError(t, m.SaveState(ctx, sess.ID, state))

	_, err = c.SendMessage(ctx, sess, "one more", chat.DefaultVariant)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestElicitationSendFailureDoesNotConsumeBudget(t *testing.T) {
	stub := &stubChat{err: errors.New("model unreachable")}
	c, _, sess := newElicitationFixture(t, true, stub)
	ctx := context.Background()

	_, err := c.SendMessage(ctx, sess, "hello?", chat.DefaultVariant)
	require.Error(t, err)

	view, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 0, view.MessagesUsed)
	// The transcript keeps the message plus a system failure marker.
	require.Len(t, view.Conversation, 2)
	assert.Equal(t, chat.RoleUser, view.Conversation[0].Role)
	assert.Equal(t, chat.RoleSystem, view.Conversation[1].Role)
}

func TestElicitationResetContext(t *testing.T) {
	stub := &stubChat{reply: "ok"}
	c, _, sess := newElicitationFixture(t, true, stub)
	ctx := context.Background()

	_, err := c.SendMessage(ctx, sess, "first question", chat.DefaultVariant)
	require.NoError(t, err)

	require.NoError(t, c.ResetContext(ctx, sess))

	view, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)
	// Budget is not refunded and the displayed transcript keeps
	// everything plus the marker.
	assert.Equal(t, 2, view.MessagesUsed)
	require.Len(t, view.Conversation, 3)
	assert.Equal(t, ContextResetMarker, view.Conversation[2].Message)

	// The model now starts from a clean slate.
	_, err = c.SendMessage(ctx, sess, "starting over", chat.DefaultVariant)
	require.NoError(t, err)
	assert.Empty(t, stub.calls[len(stub.calls)-1].History)
}

func TestElicitationSubmitAnswerAdvances(t *testing.T) {
	c, m, sess := newElicitationFixture(t, true, &stubChat{reply: "ok"})
	ctx := context.Background()

	view, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)
	correct := view.Question.CorrectAnswer

	// Case differences do not matter when grading.
	result, err := c.SubmitAnswer(ctx, sess, AnswerSubmission{
		QuestionID: view.Question.ID,
		Answer:     strings.ToUpper(correct),
	})
	require.NoError(t, err)
	assert.True(t, result.Response.IsCorrect)
	assert.False(t, result.Done)
	require.NotNil(t, result.Next)
	assert.Equal(t, 2, result.Next.Position)
	assert.Equal(t, messageBudget, result.Next.MessagesLeft)

	final, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, final.Responses, 1)
	assert.Equal(t, view.Question.ID, final.Responses[0].Elicitation.QuestionID)
}

func TestElicitationSubmitAnswerValidation(t *testing.T) {
	c, _, sess := newElicitationFixture(t, true, &stubChat{reply: "ok"})
	ctx := context.Background()

	_, err := c.SubmitAnswer(ctx, sess, AnswerSubmission{Answer: "  "})
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	_, err = c.SubmitAnswer(ctx, sess, AnswerSubmission{QuestionID: "wrong-question", Answer: "a"})
	assert.ErrorIs(t, err, ErrTurnMismatch)
}

func TestElicitationFullGame(t *testing.T) {
	c, m, sess := newElicitationFixture(t, true, &stubChat{reply: "ok"})
	ctx := context.Background()

	view, err := c.CurrentQuestion(ctx, sess)
	require.NoError(t, err)

	for i := 1; i <= view.Total; i++ {
		_, err := c.SendMessage(ctx, sess, "any hints?", chat.DefaultVariant)
		require.NoError(t, err)

		result, err := c.SubmitAnswer(ctx, sess, AnswerSubmission{Answer: "b"})
		require.NoError(t, err)
		if i < view.Total {
			require.NotNil(t, result.Next)
			// The budget resets for each new question.
			assert.Equal(t, 0, result.Next.MessagesUsed)
		} else {
			assert.True(t, result.Done)
		}
	}

	final, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, final.Responses, 3)

	_, err = c.SubmitAnswer(ctx, sess, AnswerSubmission{Answer: "b"})
	assert.ErrorIs(t, err, ErrQuestionFinished)
}

func TestElicitationRejectsDetectionSession(t *testing.T) {
	source, err := questions.Load()
	require.NoError(t, err)
	m := newTestManager(t, nil)
	sess, err := m.Create(context.Background(), GameTypeDetection, false)
	require.NoError(t, err)

	c := NewElicitationController(m, source, &stubChat{reply: "ok"}, logging.Default(), nil)
	_, err = c.CurrentQuestion(context.Background(), sess)
	assert.ErrorIs(t, err, ErrWrongGameType)
}
