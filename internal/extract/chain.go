package extract

import (
	"context"
	"errors"
	"time"

	domerrors "github.com/talkorder/talkorder-go/internal/errors"
	"github.com/talkorder/talkorder-go/internal/logger"
	"github.com/talkorder/talkorder-go/internal/metrics"
)

// Extractor is one LLM extraction provider.
type Extractor interface {
	Extract(ctx context.Context, req *Request) (*Result, error)
	Provider() string
	IsEnabled() bool
}

// Chain tries the primary provider with short retries, then falls back
// to the secondary. A chain with no enabled provider reports itself
// disabled so the pipeline can switch to silent message storage.
type Chain struct {
	providers []Extractor
	retry     RetryConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// NewChain builds an extraction chain from the given providers. Nil or
// disabled providers are skipped.
func NewChain(log *logger.Logger, m *metrics.Metrics, providers ...Extractor) *Chain {
	c := &Chain{
		retry:   DefaultRetryConfig,
		logger:  log,
		metrics: m,
	}
	for _, p := range providers {
		if p != nil && p.IsEnabled() {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// IsEnabled reports whether at least one provider can serve requests.
func (c *Chain) IsEnabled() bool {
	return c != nil && len(c.providers) > 0
}

// Extract runs the request through the provider chain. The error of the
// last provider is returned when all of them fail; callers must not
// mutate conversation state in that case.
func (c *Chain) Extract(ctx context.Context, req *Request) (*Result, error) {
	if !c.IsEnabled() {
		return nil, errors.New("no extraction provider configured")
	}

	var lastErr error
	for i, p := range c.providers {
		start := time.Now()
		var result *Result
		err := WithRetry(ctx, c.retry, func() error {
			var extractErr error
			result, extractErr = p.Extract(ctx, req)
			return extractErr
		})
		duration := time.Since(start).Seconds()

		if err == nil {
			if c.metrics != nil {
				c.metrics.RecordExtraction(p.Provider(), req.Profile.Name(), "success", duration)
			}
			return result, nil
		}

		if c.metrics != nil {
			c.metrics.RecordExtraction(p.Provider(), req.Profile.Name(), "error", duration)
		}
		lastErr = domerrors.NewExtractionError(p.Provider(), "", err)

		if ctx.Err() != nil {
			return nil, lastErr
		}
		if i < len(c.providers)-1 {
			c.logger.WithError(err).
				WithField("provider", p.Provider()).
				Warn("extraction provider failed, falling back")
		}
	}

	return nil, lastErr
}
