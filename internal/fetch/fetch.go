// Package fetch implements the ordered fallback of page-retrieval strategies
// used against sources that deploy anti-automation defenses.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/metrics"
)

// Target captures everything needed to fetch one page.
type Target struct {
	URL     string
	Headers http.Header
	// ExpectMarkers are content fragments whose presence proves the real
	// page loaded (e.g. a listing container selector). Optional.
	ExpectMarkers []string
}

// Page is the result of a successful fetch.
type Page struct {
	URL        string
	StatusCode int
	HTML       []byte
	Strategy   string
	Duration   time.Duration
}

// Strategy is one technique for retrieving a page. Each strategy owns its own
// timeout.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, target Target) (Page, error)
}

// Chain tries strategies in priority order. The first strategy returning a
// page that is not itself a challenge page wins immediately; exhausting every
// strategy yields a FetchError listing each attempt.
type Chain struct {
	strategies []Strategy
	detector   *ChallengeDetector
	logger     *zap.Logger
}

// NewChain builds a Chain. Strategies run in the order given, cheapest first.
func NewChain(detector *ChallengeDetector, logger *zap.Logger, strategies ...Strategy) *Chain {
	if detector == nil {
		detector = NewChallengeDetector(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		strategies: append([]Strategy(nil), strategies...),
		detector:   detector,
		logger:     logger,
	}
}

// Fetch runs the waterfall for one target.
func (c *Chain) Fetch(ctx context.Context, target Target) (Page, error) {
	var (
		attempts         []jobs.StrategyAttempt
		challengeTimeout *jobs.ChallengeTimeoutError
	)

	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, jobs.StrategyAttempt{Strategy: strategy.Name(), Reason: err.Error()})
			break
		}
		metrics.ObserveFetchAttempt(strategy.Name())

		page, err := strategy.Fetch(ctx, target)
		if err != nil {
			var cte *jobs.ChallengeTimeoutError
			if errors.As(err, &cte) {
				challengeTimeout = cte
			}
			attempts = append(attempts, jobs.StrategyAttempt{Strategy: strategy.Name(), Reason: err.Error()})
			c.logger.Debug("fetch strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.String("url", target.URL),
				zap.Error(err),
			)
			continue
		}

		if c.detector.IsChallenge(page.HTML) && !c.detector.HasExpected(page.HTML, target.ExpectMarkers) {
			attempts = append(attempts, jobs.StrategyAttempt{Strategy: strategy.Name(), Reason: "challenge page returned"})
			c.logger.Debug("fetch strategy hit challenge page",
				zap.String("strategy", strategy.Name()),
				zap.String("url", target.URL),
			)
			continue
		}

		page.Strategy = strategy.Name()
		metrics.ObserveFetchSuccess(strategy.Name())
		c.logger.Info("page fetched",
			zap.String("strategy", strategy.Name()),
			zap.String("url", target.URL),
			zap.Int("status", page.StatusCode),
			zap.Duration("duration", page.Duration),
		)
		return page, nil
	}

	if challengeTimeout != nil {
		return Page{}, challengeTimeout
	}
	return Page{}, &jobs.FetchError{URL: target.URL, Attempts: attempts}
}
