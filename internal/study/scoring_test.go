package study

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oversightlab/llm-safety-study/internal/questions"
)

func detectionResponse(turn int, correct bool, confidence, examined, total int) Response {
	assessment := questions.ModelTypeNormal
	modelType := questions.ModelTypeNormal
	if !correct {
		modelType = questions.ModelTypeSandbagging
	}
	ids := make([]string, examined)
	for i := range ids {
		ids[i] = "q"
	}
	return Response{
		GameType: GameTypeDetection,
		Detection: &DetectionResponse{
			TurnID:               "turn",
			TurnNumber:           turn,
			ModelType:            modelType,
			Assessment:           assessment,
			Confidence:           confidence,
			QuestionsExamined:    ids,
			TotalQuestionsInTurn: total,
			IsCorrect:            correct,
		},
	}
}

func elicitationResponse(correct bool, messages int, timeMs int64) Response {
	answer := "b"
	if correct {
		answer = "a"
	}
	return Response{
		GameType: GameTypeElicitation,
		Elicitation: &ElicitationResponse{
			QuestionID:    "eq",
			CorrectAnswer: "a",
			FinalAnswer:   answer,
			IsCorrect:     correct,
			MessageCount:  messages,
			TotalTimeMs:   timeMs,
		},
	}
}

func TestComputeScoreDetection(t *testing.T) {
	sess := &Session{
		GameType: GameTypeDetection,
		Responses: []Response{
			detectionResponse(1, true, 8, 3, 3),
			detectionResponse(2, false, 5, 1, 3),
			detectionResponse(3, true, 6, 2, 3),
			detectionResponse(4, false, 3, 3, 3),
		},
	}

	score := ComputeScore(sess)
	require.NotNil(t, score.Detection)
	assert.Nil(t, score.Elicitation)

	d := score.Detection
	assert.Equal(t, 50, d.Accuracy)
	assert.Equal(t, 4, d.TotalResponses)
	assert.Equal(t, 2, d.CorrectResponses)
	assert.Equal(t, 5.5, d.AvgConfidence)
	// Mean of 1, 1/3, 2/3, 1 is 0.75.
	assert.Equal(t, 75, d.EngagementScore)
	assert.Len(t, d.Details, 4)
	assert.True(t, d.Details[0].IsCorrect)
	assert.Equal(t, questions.ModelTypeSandbagging, d.Details[1].CorrectAnswer)
}

func TestComputeScoreElicitation(t *testing.T) {
	sess := &Session{
		GameType: GameTypeElicitation,
		Responses: []Response{
			elicitationResponse(true, 4, 60_000),
			elicitationResponse(true, 7, 90_000),
			elicitationResponse(false, 20, 120_000),
		},
	}

	score := ComputeScore(sess)
	require.NotNil(t, score.Elicitation)

	e := score.Elicitation
	assert.Equal(t, 67, e.Accuracy)
	assert.Equal(t, 3, e.TotalResponses)
	assert.Equal(t, 2, e.CorrectResponses)
	assert.Equal(t, 10.3, e.AvgMessages)
	assert.Equal(t, 90, e.AvgTimeSeconds)
	assert.Equal(t, 1, e.Details[0].QuestionNumber)
	assert.Equal(t, 3, e.Details[2].QuestionNumber)
}

func TestComputeScoreEmptySession(t *testing.T) {
	score := ComputeScore(&Session{GameType: GameTypeDetection})
	assert.Nil(t, score.Detection)
	assert.Nil(t, score.Elicitation)

	score = ComputeScore(&Session{GameType: GameTypeElicitation})
	assert.Nil(t, score.Elicitation)
}

func TestComputeScoreIgnoresMismatchedEntries(t *testing.T) {
	sess := &Session{
		GameType: GameTypeDetection,
		Responses: []Response{
			detectionResponse(1, true, 5, 1, 3),
			{GameType: GameTypeElicitation},
		},
	}
	score := ComputeScore(sess)
	require.NotNil(t, score.Detection)
	assert.Equal(t, 1, score.Detection.TotalResponses)
	assert.Equal(t, 100, score.Detection.Accuracy)
}
