package chat

import (
	"context"
	"time"

	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

// FallbackClient wraps a primary chat client with a fallback. If the
// primary fails or exceeds the deadline, the request is retried against
// the fallback so the elicitation loop never stalls on a provider outage.
type FallbackClient struct {
	primary  Client
	fallback Client
	timeout  time.Duration
	logger   *logging.Logger
	onFall   func()
}

var _ Client = (*FallbackClient)(nil)

// NewFallbackClient creates a fallback-enabled chat client. timeout bounds
// each primary call; zero means no deadline. onFallback, if non-nil, is
// invoked once per primary failure (used for metrics).
func NewFallbackClient(primary, fallback Client, timeout time.Duration, logger *logging.Logger, onFallback func()) *FallbackClient {
	if primary == nil {
		panic("chat: primary client cannot be nil")
	}
	if fallback == nil {
		panic("chat: fallback client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, timeout: timeout, logger: logger, onFall: onFallback}
}

// Send tries the primary provider and degrades to the fallback on error.
func (c *FallbackClient) Send(ctx context.Context, req Request) (Response, error) {
	primaryCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		primaryCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.primary.Send(primaryCtx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary chat provider failed, using fallback",
		"error", err.Error(),
		"question_id", req.Question.ID,
	)
	if c.onFall != nil {
		c.onFall()
	}

	return c.fallback.Send(ctx, req)
}
