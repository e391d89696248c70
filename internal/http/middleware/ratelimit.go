package middleware

import (
	"net/http"
	"sync"
	"time"
)

// ChatLimiter throttles model-chat sends with one token bucket per study
// session. Keying by session rather than client address matches the
// protocol: a session is single-participant, while several participants
// can share one NAT address.
type ChatLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int     // max tokens
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

// NewChatLimiter creates a limiter refilling at rate tokens/sec up to
// burst per session.
func NewChatLimiter(rate float64, burst int) *ChatLimiter {
	cl := &ChatLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
	}
	// Periodically evict buckets for sessions that went quiet.
	go cl.cleanup()
	return cl
}

// Allow reports whether the session may send another chat message now.
func (cl *ChatLimiter) Allow(sessionID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	b, ok := cl.buckets[sessionID]
	if !ok {
		b = &bucket{tokens: float64(cl.burst), lastTime: now}
		cl.buckets[sessionID] = b
	}

	elapsed := now.Sub(b.lastTime).Seconds()
	b.tokens += elapsed * cl.rate
	if b.tokens > float64(cl.burst) {
		b.tokens = float64(cl.burst)
	}
	b.lastTime = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (cl *ChatLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cl.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for id, b := range cl.buckets {
			if b.lastTime.Before(cutoff) {
				delete(cl.buckets, id)
			}
		}
		cl.mu.Unlock()
	}
}

// chatLimitKey identifies the caller for throttling: the study session
// from the header or cookie, falling back to the client address before a
// session exists.
func chatLimitKey(r *http.Request) string {
	if sid := r.Header.Get("X-Study-Session"); sid != "" {
		return sid
	}
	if c, err := r.Cookie("study_session_id"); err == nil && c.Value != "" {
		return c.Value
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// RateLimit returns middleware that rejects chat sends over the per-session
// budget with 429 Too Many Requests.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewChatLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(chatLimitKey(r)) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
