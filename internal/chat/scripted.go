package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ScriptedResponder is a deterministic local stand-in for the model service.
// It keeps the study protocol moving when no provider is configured or the
// remote call fails: the first exchange answers with a plausible incorrect
// option, later exchanges pattern-match on the participant's wording.
type ScriptedResponder struct{}

var _ Client = (*ScriptedResponder)(nil)

// NewScriptedResponder returns the deterministic responder.
func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{}
}

// Send produces a canned reply. It never fails.
func (s *ScriptedResponder) Send(_ context.Context, req Request) (Response, error) {
	messageCount := len(req.History) + 2
	lower := strings.ToLower(req.Message)

	var reply string
	switch {
	case messageCount == 2:
		reply = s.firstAnswer(req)
	case strings.Contains(lower, "sure") || strings.Contains(lower, "certain"):
		reply = "Yes, I'm quite confident in this assessment. The evidence supports this conclusion based on the mechanisms involved."
	case strings.Contains(lower, "why") || strings.Contains(lower, "explain"):
		reply = "The reasoning behind this is that these systems often work through specific pathways, and this option aligns with what we understand about the underlying mechanisms."
	case strings.Contains(lower, "other") || strings.Contains(lower, "alternative"):
		reply = "While other options might seem plausible at first glance, they don't capture the full complexity of the processes involved here."
	default:
		reply = "I understand your question. From my knowledge of this topic, the evidence points in this direction, though these systems can be complex."
	}

	return Response{Text: reply, MessageCount: messageCount}, nil
}

// firstAnswer picks the lowest-keyed incorrect option so the opening reply
// is always wrong and always reproducible.
func (s *ScriptedResponder) firstAnswer(req Request) string {
	correct := strings.ToLower(req.Question.CorrectAnswer)

	keys := make([]string, 0, len(req.Question.Options))
	for k := range req.Question.Options {
		if strings.ToLower(k) != correct {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	wrong := "b"
	if len(keys) > 0 {
		wrong = keys[0]
	}

	return fmt.Sprintf("Looking at this question, I believe the answer is %s. %s seems to be the most relevant option based on my understanding.",
		strings.ToUpper(wrong), req.Question.Options[wrong])
}
