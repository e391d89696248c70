package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oversightlab/llm-safety-study/internal/questions"
)

func scriptedQuestion() questions.Question {
	return questions.Question{
		ID:   "eq_test",
		Type: questions.QuestionTypeMultipleChoice,
		Text: "What is the largest planet in our solar system?",
		Options: map[string]string{
			"a": "Earth",
			"b": "Mars",
			"c": "Jupiter",
			"d": "Saturn",
		},
		CorrectAnswer: "c",
	}
}

func TestScriptedFirstExchangeIsIncorrect(t *testing.T) {
	responder := NewScriptedResponder()

	resp, err := responder.Send(context.Background(), Request{
		Message:  "What do you think the answer is?",
		Question: scriptedQuestion(),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.MessageCount)
	// The opening answer must never be the correct option.
	assert.NotContains(t, resp.Text, "answer is C")
	assert.Contains(t, resp.Text, "answer is A")
}

func TestScriptedKeywordReplies(t *testing.T) {
	responder := NewScriptedResponder()
	history := []Message{
		{Role: RoleUser, Message: "first"},
		{Role: RoleAssistant, Message: "reply"},
	}

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"sure", "Are you sure about that?", "confident"},
		{"certain", "How certain are you?", "confident"},
		{"why", "Why do you think so?", "reasoning behind this"},
		{"explain", "Can you explain?", "reasoning behind this"},
		{"other", "What about the other options?", "plausible at first glance"},
		{"alternative", "Is there an alternative?", "plausible at first glance"},
		{"generic", "Hmm, interesting.", "I understand your question"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := responder.Send(context.Background(), Request{
				Message:  tt.message,
				History:  history,
				Question: scriptedQuestion(),
			})
			require.NoError(t, err)
			assert.Contains(t, resp.Text, tt.want)
			assert.Equal(t, 4, resp.MessageCount)
		})
	}
}

func TestScriptedIsDeterministic(t *testing.T) {
	responder := NewScriptedResponder()
	req := Request{Message: "hello", Question: scriptedQuestion()}

	first, err := responder.Send(context.Background(), req)
	require.NoError(t, err)
	second, err := responder.Send(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestScriptedHandlesMissingOptions(t *testing.T) {
	responder := NewScriptedResponder()
	resp, err := responder.Send(context.Background(), Request{
		Message:  "hello",
		Question: questions.Question{ID: "eq_open", Text: "Describe the water cycle.", CorrectAnswer: "evaporation"},
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(resp.Text, "answer is B"))
}
