package study

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oversightlab/llm-safety-study/internal/chat"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

// sessionCookie carries the session id across page loads.
const sessionCookie = "study_session_id"

// Handler wires HTTP requests to the session manager and the two game
// controllers. Page routes serve navigation gating; /api routes serve the
// JSON surface the front end drives.
type Handler struct {
	sessions    *Manager
	detection   *DetectionController
	elicitation *ElicitationController
	logger      *logging.Logger
}

// NewHandler creates the study handler.
func NewHandler(sessions *Manager, detection *DetectionController, elicitation *ElicitationController, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		sessions:    sessions,
		detection:   detection,
		elicitation: elicitation,
		logger:      logger.Component("study.http"),
	}
}

// Page gates a navigation request for the given route. Allowed requests
// fall through to next; everything else is redirected with the link
// parameters preserved.
func (h *Handler) Page(route Route, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := h.sessionFromRequest(r)
		params := r.URL.Query()

		if params.Get("skip") == "true" && (sess == nil || !sess.HasDemographics()) {
			var err error
			sess, err = h.provisionSkipSession(r, sess)
			if err != nil {
				h.logger.Error("failed to provision skip session", "error", err)
				http.Error(w, "Failed to start session", http.StatusInternalServerError)
				return
			}
			h.setSessionCookie(w, sess.ID)
		}

		decision := Decide(route, sess, params)
		if !decision.Allow {
			http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
			return
		}
		next(w, r)
	}
}

// provisionSkipSession creates (or completes) a session for the testing
// shortcut: game type from the game parameter or random, demographics
// stamped with the skipped sentinel.
func (h *Handler) provisionSkipSession(r *http.Request, sess *Session) (*Session, error) {
	ctx := r.Context()
	if sess == nil {
		gameType, ok := ParseGameType(r.URL.Query().Get("game"))
		if !ok {
			gameType = RandomGameType()
		}
		created, err := h.sessions.Create(ctx, gameType, r.URL.Query().Get("demo") == "true")
		if err != nil {
			return nil, err
		}
		sess = created
	}
	if !sess.HasDemographics() {
		updated, err := h.sessions.SetDemographics(ctx, sess.ID, SkippedDemographics())
		if err != nil && !errors.Is(err, ErrDemographicsAlreadySet) {
			return nil, err
		}
		if updated != nil {
			sess = updated
		}
	}
	return sess, nil
}

// CreateSession handles POST /api/session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GameType string `json:"gameType"`
		Demo     bool   `json:"demo"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	gameType, ok := ParseGameType(req.GameType)
	if !ok {
		if req.GameType != "" {
			http.Error(w, "Unknown game type", http.StatusBadRequest)
			return
		}
		gameType = RandomGameType()
	}

	sess, err := h.sessions.Create(r.Context(), gameType, req.Demo)
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	h.setSessionCookie(w, sess.ID)
	h.writeJSON(w, http.StatusCreated, sess)
}

// GetSession handles GET /api/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

// ClearSession handles DELETE /api/session.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	sess := h.sessionFromRequest(r)
	if sess != nil {
		if err := h.sessions.Clear(r.Context(), sess.ID); err != nil {
			h.logger.Error("failed to clear session", "session_id", sess.ID, "error", err)
			http.Error(w, "Failed to clear session", http.StatusInternalServerError)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// SubmitDemographics handles POST /api/demographics.
func (h *Handler) SubmitDemographics(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var d Demographics
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := h.sessions.SetDemographics(r.Context(), sess.ID, d)
	if err != nil {
		h.writeError(w, "Failed to save demographics", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// Sequence handles GET /api/sequence: the participant's current item.
func (h *Handler) Sequence(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	switch sess.GameType {
	case GameTypeDetection:
		view, err := h.detection.CurrentTurn(r.Context(), sess)
		if err != nil {
			h.writeError(w, "Failed to load turn", err)
			return
		}
		h.writeJSON(w, http.StatusOK, view)
	case GameTypeElicitation:
		view, err := h.elicitation.CurrentQuestion(r.Context(), sess)
		if err != nil {
			h.writeError(w, "Failed to load question", err)
			return
		}
		h.writeJSON(w, http.StatusOK, view)
	default:
		http.Error(w, "Unknown game type", http.StatusInternalServerError)
	}
}

// MarkViewed handles POST /api/detection/view.
func (h *Handler) MarkViewed(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID string `json:"questionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.detection.MarkViewed(r.Context(), sess, req.QuestionID); err != nil {
		h.writeError(w, "Failed to record view", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitTurn handles POST /api/detection/submit.
func (h *Handler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var sub DetectionSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.detection.Submit(r.Context(), sess, sub)
	if err != nil {
		h.writeError(w, "Failed to submit turn", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Chat handles POST /api/chat. The sp query parameter selects the system
// prompt variant for this send; unknown values fall back to the default.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	sp, _ := strconv.Atoi(r.URL.Query().Get("sp"))
	reply, err := h.elicitation.SendMessage(r.Context(), sess, req.Message, chat.VariantFromParam(sp))
	if err != nil {
		h.writeError(w, "Failed to send message", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reply)
}

// ResetChat handles POST /api/chat/reset.
func (h *Handler) ResetChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	if err := h.elicitation.ResetContext(r.Context(), sess); err != nil {
		h.writeError(w, "Failed to reset context", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitAnswer handles POST /api/elicitation/answer.
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var sub AnswerSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.elicitation.SubmitAnswer(r.Context(), sess, sub)
	if err != nil {
		h.writeError(w, "Failed to submit answer", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SubmitResponse handles POST /api/response, dispatching on the session's
// game type so the front end can use one submit endpoint for either game.
func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		DetectionSubmission
		AnswerSubmission
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	switch sess.GameType {
	case GameTypeDetection:
		result, err := h.detection.Submit(r.Context(), sess, body.DetectionSubmission)
		if err != nil {
			h.writeError(w, "Failed to submit turn", err)
			return
		}
		h.writeJSON(w, http.StatusOK, result)
	case GameTypeElicitation:
		result, err := h.elicitation.SubmitAnswer(r.Context(), sess, body.AnswerSubmission)
		if err != nil {
			h.writeError(w, "Failed to submit answer", err)
			return
		}
		h.writeJSON(w, http.StatusOK, result)
	default:
		http.Error(w, "Unknown game type", http.StatusInternalServerError)
	}
}

// Complete handles POST /api/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	updated, err := h.sessions.Complete(r.Context(), sess.ID)
	if err != nil {
		h.writeError(w, "Failed to complete session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

// ScoreHandler handles GET /api/score.
func (h *Handler) ScoreHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, ComputeScore(sess))
}

func (h *Handler) sessionFromRequest(r *http.Request) *Session {
	id := r.Header.Get("X-Study-Session")
	if id == "" {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			id = cookie.Value
		}
	}
	if id == "" {
		return nil
	}
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			h.logger.Error("failed to load session", "session_id", id, "error", err)
		}
		return nil
	}
	return sess
}

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess := h.sessionFromRequest(r)
	if sess == nil {
		http.Error(w, "No active session", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError maps domain errors to HTTP statuses, falling back to 500.
func (h *Handler) writeError(w http.ResponseWriter, fallback string, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "No active session", http.StatusNotFound)
	case errors.Is(err, ErrDemographicsAlreadySet),
		errors.Is(err, ErrSessionCompleted),
		errors.Is(err, ErrSendInFlight),
		errors.Is(err, ErrTurnMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrDemographicsIncomplete),
		errors.Is(err, ErrInvalidAssessment),
		errors.Is(err, ErrInvalidConfidence),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrEmptyAnswer),
		errors.Is(err, ErrWrongGameType),
		errors.Is(err, ErrTurnFinished),
		errors.Is(err, ErrQuestionFinished):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrBudgetExhausted):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		h.logger.Error(fallback, "error", err)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
