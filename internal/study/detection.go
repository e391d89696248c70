package study

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/oversightlab/llm-safety-study/internal/questions"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

const (
	defaultConfidence = 5
	minConfidence     = 1
	maxConfidence     = 10
)

var (
	// ErrWrongGameType is returned when a controller is driven by a
	// session locked to the other variant.
	ErrWrongGameType = errors.New("study: session belongs to the other game")
	// ErrTurnFinished is returned when acting past the last turn.
	ErrTurnFinished = errors.New("study: no turn remaining in this session")
	// ErrInvalidAssessment is returned when the judged type is missing
	// or unknown.
	ErrInvalidAssessment = errors.New("study: assessment must be normal or sandbagging")
	// ErrInvalidConfidence is returned when confidence is out of range.
	ErrInvalidConfidence = errors.New("study: confidence must be between 1 and 10")
	// ErrTurnMismatch is returned when a submit names a turn the
	// participant is not currently on.
	ErrTurnMismatch = errors.New("study: submitted turn is not the current turn")
)

// TurnView is what the participant gets for one detection turn: the turn
// with answers concealed, progress, and which questions were examined.
type TurnView struct {
	Turn      questions.Turn `json:"turn"`
	Position  int            `json:"position"`
	Total     int            `json:"total"`
	ViewedIDs []string       `json:"viewedQuestionIds"`
	HasNext   bool           `json:"hasNext"`
}

// DetectionSubmission is the participant's judgement of one turn.
type DetectionSubmission struct {
	TurnID     string `json:"turnId"`
	Assessment string `json:"assessment"`
	// Confidence defaults to the scale midpoint when zero.
	Confidence int `json:"confidence"`
}

// DetectionResult is returned after a submit: the appended response plus
// either the next turn or the end-of-game signal.
type DetectionResult struct {
	Response DetectionResponse `json:"response"`
	Done     bool              `json:"done"`
	Next     *TurnView         `json:"next,omitempty"`
}

// DetectionController drives the judge-the-batch game. Turn order comes
// from the session-seeded sequence; the controller owns the position and
// per-turn state.
type DetectionController struct {
	sessions *Manager
	source   *questions.Source
	logger   *logging.Logger
}

func NewDetectionController(sessions *Manager, source *questions.Source, logger *logging.Logger) *DetectionController {
	if sessions == nil {
		panic("study: session manager cannot be nil")
	}
	if source == nil {
		panic("study: question source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DetectionController{sessions: sessions, source: source, logger: logger.Component("study.detection")}
}

func (c *DetectionController) sequence(sess *Session) DetectionSequence {
	return NewDetectionSequence(c.source.DetectionTurns(), sess.ID, sess.IsDemo)
}

// CurrentTurn returns the participant's current turn, initializing the
// game state on first call.
func (c *DetectionController) CurrentTurn(ctx context.Context, sess *Session) (TurnView, error) {
	if sess.GameType != GameTypeDetection {
		return TurnView{}, ErrWrongGameType
	}
	seq := c.sequence(sess)
	state, err := c.ensureState(ctx, sess, seq)
	if err != nil {
		return TurnView{}, err
	}
	return c.view(seq, state)
}

// MarkViewed records that the participant examined one question of the
// current turn.
func (c *DetectionController) MarkViewed(ctx context.Context, sess *Session, questionID string) error {
	if sess.GameType != GameTypeDetection {
		return ErrWrongGameType
	}
	seq := c.sequence(sess)
	state, err := c.ensureState(ctx, sess, seq)
	if err != nil {
		return err
	}
	turn, ok := seq.At(state.Position)
	if !ok {
		return ErrTurnFinished
	}
	found := false
	for _, q := range turn.Questions {
		if q.ID == questionID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("study: question %s is not part of turn %s", questionID, turn.ID)
	}
	state.Turn.Viewed[questionID] = true
	return c.sessions.SaveState(ctx, sess.ID, state)
}

// Submit records the judgement for the current turn, appends the response
// to the session, and advances to the next turn.
func (c *DetectionController) Submit(ctx context.Context, sess *Session, sub DetectionSubmission) (DetectionResult, error) {
	if sess.GameType != GameTypeDetection {
		return DetectionResult{}, ErrWrongGameType
	}
	seq := c.sequence(sess)
	state, err := c.ensureState(ctx, sess, seq)
	if err != nil {
		return DetectionResult{}, err
	}
	turn, ok := seq.At(state.Position)
	if !ok {
		return DetectionResult{}, ErrTurnFinished
	}
	if sub.TurnID != "" && sub.TurnID != turn.ID {
		return DetectionResult{}, ErrTurnMismatch
	}

	assessment := questions.ModelType(sub.Assessment)
	if assessment != questions.ModelTypeNormal && assessment != questions.ModelTypeSandbagging {
		return DetectionResult{}, ErrInvalidAssessment
	}
	confidence := sub.Confidence
	if confidence == 0 {
		confidence = defaultConfidence
	}
	if confidence < minConfidence || confidence > maxConfidence {
		return DetectionResult{}, ErrInvalidConfidence
	}

	resp := DetectionResponse{
		TurnID:               turn.ID,
		TurnNumber:           turn.TurnNumber,
		ModelType:            turn.ModelType,
		Assessment:           assessment,
		Confidence:           confidence,
		QuestionsExamined:    sortedKeys(state.Turn.Viewed),
		TotalQuestionsInTurn: len(turn.Questions),
		IsCorrect:            assessment == turn.ModelType,
		ResponseTimeMs:       c.sessions.now().UTC().Sub(state.Turn.StartedAt).Milliseconds(),
		Timestamp:            c.sessions.now().UTC(),
	}
	if _, err := c.sessions.AppendResponse(ctx, sess.ID, Response{
		GameType:  GameTypeDetection,
		Detection: &resp,
	}); err != nil {
		return DetectionResult{}, err
	}

	result := DetectionResult{Response: resp}
	if !seq.HasNext(state.Position) {
		result.Done = true
		state.Position = seq.Len() + 1
		state.Turn = nil
		if err := c.sessions.SaveState(ctx, sess.ID, state); err != nil {
			return DetectionResult{}, err
		}
		return result, nil
	}

	state.Position++
	next, _ := seq.At(state.Position)
	state.Turn = &TurnState{
		TurnID:    next.ID,
		Viewed:    map[string]bool{},
		StartedAt: c.sessions.now().UTC(),
	}
	if err := c.sessions.SaveState(ctx, sess.ID, state); err != nil {
		return DetectionResult{}, err
	}
	view, err := c.view(seq, state)
	if err != nil {
		return DetectionResult{}, err
	}
	result.Next = &view
	return result, nil
}

// ensureState loads the game state, creating it at position 1 on the
// participant's first contact with the game.
func (c *DetectionController) ensureState(ctx context.Context, sess *Session, seq DetectionSequence) (*GameState, error) {
	state, err := c.sessions.LoadState(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		first, ok := seq.At(1)
		if !ok {
			return nil, ErrTurnFinished
		}
		state = &GameState{
			Position: 1,
			Turn: &TurnState{
				TurnID:    first.ID,
				Viewed:    map[string]bool{},
				StartedAt: c.sessions.now().UTC(),
			},
		}
		if err := c.sessions.SaveState(ctx, sess.ID, state); err != nil {
			return nil, err
		}
	}
	if state.Turn != nil && state.Turn.Viewed == nil {
		state.Turn.Viewed = map[string]bool{}
	}
	return state, nil
}

func (c *DetectionController) view(seq DetectionSequence, state *GameState) (TurnView, error) {
	turn, ok := seq.At(state.Position)
	if !ok {
		return TurnView{}, ErrTurnFinished
	}
	return TurnView{
		Turn:      turn,
		Position:  state.Position,
		Total:     seq.Len(),
		ViewedIDs: sortedKeys(state.Turn.Viewed),
		HasNext:   seq.HasNext(state.Position),
	}, nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
