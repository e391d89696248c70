package study

import (
	"hash/fnv"
	"math/rand"

	"github.com/oversightlab/llm-safety-study/internal/questions"
)

// Demo sessions are cut to a short preview; full elicitation runs are
// capped so a session stays under roughly half an hour.
const (
	demoSequenceLen         = 3
	maxElicitationQuestions = 10
)

// sequenceSeed derives a stable per-session shuffle seed so a reload of
// the same session replays the identical order.
func sequenceSeed(sessionID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	return int64(h.Sum64())
}

// DetectionSequence is the fixed, shuffled order of turns for one session.
// It is stateless with respect to progress; the caller owns the position.
type DetectionSequence struct {
	turns []questions.Turn
}

// NewDetectionSequence shuffles the full turn set with the session's seed,
// truncates demo sessions, and renumbers turns densely from 1.
func NewDetectionSequence(src []questions.Turn, sessionID string, isDemo bool) DetectionSequence {
	turns := make([]questions.Turn, len(src))
	copy(turns, src)
	rng := rand.New(rand.NewSource(sequenceSeed(sessionID)))
	rng.Shuffle(len(turns), func(i, j int) {
		turns[i], turns[j] = turns[j], turns[i]
	})
	if isDemo && len(turns) > demoSequenceLen {
		turns = turns[:demoSequenceLen]
	}
	for i := range turns {
		turns[i].TurnNumber = i + 1
	}
	return DetectionSequence{turns: turns}
}

// Len is the total number of turns in this session.
func (s DetectionSequence) Len() int { return len(s.turns) }

// At returns the turn at the 1-based position.
func (s DetectionSequence) At(position int) (questions.Turn, bool) {
	if position < 1 || position > len(s.turns) {
		return questions.Turn{}, false
	}
	return s.turns[position-1], true
}

// HasNext reports whether another turn follows the 1-based position.
func (s DetectionSequence) HasNext(position int) bool {
	return position < len(s.turns)
}

// ElicitationSequence is the fixed, shuffled order of questions for one
// session.
type ElicitationSequence struct {
	items []questions.Question
}

// NewElicitationSequence shuffles the question pool with the session's
// seed and truncates to the demo or full-session cap.
func NewElicitationSequence(src []questions.Question, sessionID string, isDemo bool) ElicitationSequence {
	items := make([]questions.Question, len(src))
	copy(items, src)
	rng := rand.New(rand.NewSource(sequenceSeed(sessionID)))
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
	limit := maxElicitationQuestions
	if isDemo {
		limit = demoSequenceLen
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return ElicitationSequence{items: items}
}

// Len is the total number of questions in this session.
func (s ElicitationSequence) Len() int { return len(s.items) }

// At returns the question at the 1-based position.
func (s ElicitationSequence) At(position int) (questions.Question, bool) {
	if position < 1 || position > len(s.items) {
		return questions.Question{}, false
	}
	return s.items[position-1], true
}

// HasNext reports whether another question follows the 1-based position.
func (s ElicitationSequence) HasNext(position int) bool {
	return position < len(s.items)
}
