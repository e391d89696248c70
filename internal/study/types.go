// Package study implements the session/game-flow core of the behavioral
// research platform: session lifecycle, navigation gating, turn/question
// sequencing, the elicitation chat loop, the detection turn flow and
// scoring over the recorded responses.
package study

import (
	"errors"
	"math/rand"
	"time"

	"github.com/oversightlab/llm-safety-study/internal/chat"
	"github.com/oversightlab/llm-safety-study/internal/questions"
)

// GameType selects which experiment variant a session runs.
type GameType string

const (
	GameTypeDetection   GameType = "detection"
	GameTypeElicitation GameType = "elicitation"
)

// ParseGameType validates a game type string.
func ParseGameType(s string) (GameType, bool) {
	switch GameType(s) {
	case GameTypeDetection, GameTypeElicitation:
		return GameType(s), true
	}
	return "", false
}

// RandomGameType assigns one of the two variants uniformly.
func RandomGameType() GameType {
	if rand.Intn(2) == 0 {
		return GameTypeDetection
	}
	return GameTypeElicitation
}

// CompletionStatus tracks the session lifecycle.
type CompletionStatus string

const (
	StatusInProgress CompletionStatus = "in_progress"
	StatusCompleted  CompletionStatus = "completed"
)

// Demographics is the fixed set of required categorical answers collected
// before a game starts. All fields are present or the record does not exist.
type Demographics struct {
	Age                     string `json:"age"`
	BioExperience           string `json:"bioExperience"`
	ChemExperience          string `json:"chemExperience"`
	CybersecurityExperience string `json:"cybersecurityExperience"`
	ProgrammingExperience   string `json:"programmingExperience"`
	Background              string `json:"background"`
	AISafetyExposure        bool   `json:"aiSafetyExposure"`
	Skipped                 bool   `json:"skipped,omitempty"`
}

// ErrDemographicsIncomplete is returned when a required field is missing.
var ErrDemographicsIncomplete = errors.New("study: all demographic fields are required")

// Validate checks required-ness of every field.
func (d Demographics) Validate() error {
	if d.Skipped {
		return nil
	}
	for _, field := range []string{
		d.Age, d.BioExperience, d.ChemExperience,
		d.CybersecurityExperience, d.ProgrammingExperience, d.Background,
	} {
		if field == "" {
			return ErrDemographicsIncomplete
		}
	}
	return nil
}

// SkippedDemographics is the sentinel record stamped by skip mode.
func SkippedDemographics() Demographics {
	return Demographics{
		Age:                     "skipped",
		BioExperience:           "skipped",
		ChemExperience:          "skipped",
		CybersecurityExperience: "skipped",
		ProgrammingExperience:   "skipped",
		Background:              "skipped",
		Skipped:                 true,
	}
}

// ConversationMessage is one entry of the displayed transcript. Role is
// user, assistant, or system for markers (context resets, send failures).
type ConversationMessage struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextResetMarker is the system-role message recorded when the
// participant clears the model-facing context.
const ContextResetMarker = "CONTEXT_RESET"

// DetectionResponse records one judged turn.
type DetectionResponse struct {
	TurnID               string              `json:"turnId"`
	TurnNumber           int                 `json:"turnNumber"`
	ModelType            questions.ModelType `json:"modelType"`
	Assessment           questions.ModelType `json:"userAssessment"`
	Confidence           int                 `json:"confidence"`
	QuestionsExamined    []string            `json:"questionsExamined"`
	TotalQuestionsInTurn int                 `json:"totalQuestionsInTurn"`
	IsCorrect            bool                `json:"isCorrect"`
	ResponseTimeMs       int64               `json:"responseTime"`
	Timestamp            time.Time           `json:"timestamp"`
}

// ElicitationResponse records one finished question conversation.
type ElicitationResponse struct {
	QuestionID    string                `json:"questionId"`
	QuestionText  string                `json:"questionText"`
	CorrectAnswer string                `json:"correctAnswer"`
	FinalAnswer   string                `json:"finalAnswer"`
	IsCorrect     bool                  `json:"isCorrect"`
	Conversation  []ConversationMessage `json:"conversation"`
	MessageCount  int                   `json:"messageCount"`
	TotalTimeMs   int64                 `json:"totalTime"`
	PromptVariant chat.PromptVariant    `json:"systemPromptId"`
	Timestamp     time.Time             `json:"timestamp"`
}

// Response is one appended entry of the session's response log,
// polymorphic by game type.
type Response struct {
	GameType    GameType             `json:"gameType"`
	Detection   *DetectionResponse   `json:"detection,omitempty"`
	Elicitation *ElicitationResponse `json:"elicitation,omitempty"`
}

// Session is one participant's end-to-end run through the study. GameType
// and IsDemo never change after creation; Responses only grows;
// Demographics is set at most once.
type Session struct {
	ID               string           `json:"sessionId"`
	GameType         GameType         `json:"gameType"`
	IsDemo           bool             `json:"isDemo"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          *time.Time       `json:"endTime,omitempty"`
	CompletionStatus CompletionStatus `json:"completionStatus"`
	Demographics     *Demographics    `json:"demographics"`
	Responses        []Response       `json:"responses"`
	// RemoteRecordID is the opaque handle of the mirrored external record;
	// empty if mirroring failed at creation.
	RemoteRecordID string `json:"remoteRecordId,omitempty"`
}

// Completed reports whether the session has been marked complete.
func (s *Session) Completed() bool {
	return s != nil && s.CompletionStatus == StatusCompleted
}

// HasDemographics reports whether demographics were submitted (or skipped).
func (s *Session) HasDemographics() bool {
	return s != nil && s.Demographics != nil
}
