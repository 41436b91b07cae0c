package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"aura/internal/domain"
	"aura/internal/logger"
	"aura/internal/metrics"
	"aura/internal/ports"
)

const defaultAnalysisTimeout = 15 * time.Second

// AnalysisCoordinator keeps at most one analysis request in flight. Requests
// submitted while busy are dropped, never queued.
type AnalysisCoordinator struct {
	analyzer ports.Analyzer
	rules    ports.RulesEngine
	events   ports.EventSink
	timeout  time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics

	busy atomic.Bool
	wg   sync.WaitGroup
}

func NewAnalysisCoordinator(
	analyzer ports.Analyzer,
	rules ports.RulesEngine,
	events ports.EventSink,
	timeout time.Duration,
	log *logger.Logger,
	m *metrics.Metrics,
) *AnalysisCoordinator {
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AnalysisCoordinator{
		analyzer: analyzer,
		rules:    rules,
		events:   events,
		timeout:  timeout,
		log:      log.Named("analysis"),
		metrics:  m,
	}
}

// Submit starts req unless another request is in flight. It reports whether
// req was accepted.
func (c *AnalysisCoordinator) Submit(ctx context.Context, req domain.AnalysisRequest) bool {
	if !c.busy.CompareAndSwap(false, true) {
		c.log.Debug("Analysis busy, dropping request",
			logger.String("session_id", req.SessionID),
			logger.Int("chars", utf8.RuneCountInString(req.Text)))
		if c.metrics != nil {
			c.metrics.AnalysisDropped.Inc()
		}
		return false
	}

	c.wg.Add(1)
	if c.metrics != nil {
		c.metrics.AnalysisRequests.Inc()
	}
	c.events.AnalysisLoading(true)
	go c.run(ctx, req)
	return true
}

// Busy reports whether a request is in flight.
func (c *AnalysisCoordinator) Busy() bool {
	return c.busy.Load()
}

// Wait blocks until the in-flight request, if any, has been published.
func (c *AnalysisCoordinator) Wait() {
	c.wg.Wait()
}

func (c *AnalysisCoordinator) run(ctx context.Context, req domain.AnalysisRequest) {
	defer c.wg.Done()
	// The slot stays held until the outcome and loading=false are published.
	defer c.busy.Store(false)

	text, err := applyRules(c.rules, req.Text)
	if err != nil || text == "" {
		if err != nil {
			c.log.Warn("Transcript rules failed, analyzing raw text", logger.Error(err))
		}
		text = req.Text
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	started := time.Now()
	result, err := c.analyzer.Analyze(callCtx, text)
	cancel()
	if c.metrics != nil {
		c.metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	}

	outcome := domain.AnalysisOutcome{Request: req}
	if err != nil {
		if c.metrics != nil {
			c.metrics.AnalysisFailures.Inc()
		}
		outcome.Error = analysisErrorMessage(err)
		c.log.Warn("Analysis request failed",
			logger.String("session_id", req.SessionID),
			logger.Error(err))
		c.events.AnalysisFailed(outcome)
	} else {
		outcome.Result = &result
		c.log.Debug("Analysis completed",
			logger.String("session_id", req.SessionID),
			logger.Float64("sentiment", result.Sentiment),
			logger.String("emotion", result.Emotion))
		c.events.AnalysisCompleted(outcome)
	}
	c.events.AnalysisLoading(false)
}

func analysisErrorMessage(err error) string {
	if domain.KindOf(err) == domain.ErrorKindAnalysisRequestFailed {
		return err.Error()
	}
	return fmt.Sprintf("%v: %v", domain.ErrAnalysisRequestFailed, err)
}
