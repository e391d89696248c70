package study

import (
	"math"

	"github.com/oversightlab/llm-safety-study/internal/questions"
)

// DetectionTurnResult is the per-turn breakdown shown on the results page.
type DetectionTurnResult struct {
	TurnNumber    int                 `json:"turnNumber"`
	TurnID        string              `json:"turnId"`
	UserAnswer    questions.ModelType `json:"userAnswer"`
	CorrectAnswer questions.ModelType `json:"correctAnswer"`
	IsCorrect     bool                `json:"isCorrect"`
	Confidence    int                 `json:"confidence"`
}

// DetectionScore summarizes a detection session.
type DetectionScore struct {
	Accuracy         int                   `json:"accuracy"`
	TotalResponses   int                   `json:"totalResponses"`
	CorrectResponses int                   `json:"correctResponses"`
	AvgConfidence    float64               `json:"avgConfidence"`
	EngagementScore  int                   `json:"engagementScore"`
	Details          []DetectionTurnResult `json:"details"`
}

// ElicitationQuestionResult is the per-question breakdown.
type ElicitationQuestionResult struct {
	QuestionNumber int    `json:"questionNumber"`
	QuestionID     string `json:"questionId"`
	UserAnswer     string `json:"userAnswer"`
	CorrectAnswer  string `json:"correctAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
	MessageCount   int    `json:"messageCount"`
}

// ElicitationScore summarizes an elicitation session.
type ElicitationScore struct {
	Accuracy         int                         `json:"accuracy"`
	TotalResponses   int                         `json:"totalResponses"`
	CorrectResponses int                         `json:"correctResponses"`
	AvgMessages      float64                     `json:"avgMessages"`
	AvgTimeSeconds   int                         `json:"avgTimeSeconds"`
	Details          []ElicitationQuestionResult `json:"details"`
}

// Score is the computed results view of a session. Exactly one of the
// variant summaries is set; both are nil for a session with no responses.
type Score struct {
	GameType    GameType          `json:"gameType"`
	Detection   *DetectionScore   `json:"detection,omitempty"`
	Elicitation *ElicitationScore `json:"elicitation,omitempty"`
}

// ComputeScore derives the results summary from the session's recorded
// responses. It never mutates the session.
func ComputeScore(sess *Session) Score {
	score := Score{GameType: sess.GameType}
	switch sess.GameType {
	case GameTypeDetection:
		if s := scoreDetection(sess.Responses); s != nil {
			score.Detection = s
		}
	case GameTypeElicitation:
		if s := scoreElicitation(sess.Responses); s != nil {
			score.Elicitation = s
		}
	}
	return score
}

func scoreDetection(responses []Response) *DetectionScore {
	var (
		details        []DetectionTurnResult
		correct        int
		confidenceSum  int
		engagementSum  float64
		engagementUsed int
	)
	for _, r := range responses {
		d := r.Detection
		if d == nil {
			continue
		}
		if d.IsCorrect {
			correct++
		}
		confidenceSum += d.Confidence
		if d.TotalQuestionsInTurn > 0 {
			engagementSum += float64(len(d.QuestionsExamined)) / float64(d.TotalQuestionsInTurn)
			engagementUsed++
		}
		details = append(details, DetectionTurnResult{
			TurnNumber:    d.TurnNumber,
			TurnID:        d.TurnID,
			UserAnswer:    d.Assessment,
			CorrectAnswer: d.ModelType,
			IsCorrect:     d.IsCorrect,
			Confidence:    d.Confidence,
		})
	}
	n := len(details)
	if n == 0 {
		return nil
	}
	engagement := 0
	if engagementUsed > 0 {
		engagement = int(math.Round(100 * engagementSum / float64(engagementUsed)))
	}
	return &DetectionScore{
		Accuracy:         int(math.Round(100 * float64(correct) / float64(n))),
		TotalResponses:   n,
		CorrectResponses: correct,
		AvgConfidence:    roundTenth(float64(confidenceSum) / float64(n)),
		EngagementScore:  engagement,
		Details:          details,
	}
}

func scoreElicitation(responses []Response) *ElicitationScore {
	var (
		details     []ElicitationQuestionResult
		correct     int
		messagesSum int
		timeMsSum   int64
	)
	for _, r := range responses {
		e := r.Elicitation
		if e == nil {
			continue
		}
		if e.IsCorrect {
			correct++
		}
		messagesSum += e.MessageCount
		timeMsSum += e.TotalTimeMs
		details = append(details, ElicitationQuestionResult{
			QuestionNumber: len(details) + 1,
			QuestionID:     e.QuestionID,
			UserAnswer:     e.FinalAnswer,
			CorrectAnswer:  e.CorrectAnswer,
			IsCorrect:      e.IsCorrect,
			MessageCount:   e.MessageCount,
		})
	}
	n := len(details)
	if n == 0 {
		return nil
	}
	return &ElicitationScore{
		Accuracy:         int(math.Round(100 * float64(correct) / float64(n))),
		TotalResponses:   n,
		CorrectResponses: correct,
		AvgMessages:      roundTenth(float64(messagesSum) / float64(n)),
		AvgTimeSeconds:   int(math.Round(float64(timeMsSum) / float64(n) / 1000)),
		Details:          details,
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
