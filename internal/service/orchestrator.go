package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/cnweather/internal/apperrors"
	"github.com/kjstillabower/cnweather/internal/cache"
	"github.com/kjstillabower/cnweather/internal/client"
	"github.com/kjstillabower/cnweather/internal/models"
	"github.com/kjstillabower/cnweather/internal/observability"
	"github.com/kjstillabower/cnweather/internal/planner"
)

// DefaultMinInterval is the minimum gap between two accepted Start calls.
const DefaultMinInterval = 3 * time.Second

// Progress milestones. Candidate i of n reports progressFirst + i*progressSpan/n.
const (
	progressStart = 0
	progressFirst = 10
	progressSpan  = 80
	progressDone  = 100
)

// ErrCancelled is returned by QueryHandle.Err after a query was cancelled.
var ErrCancelled = errors.New("query cancelled")

// QueryError is the failure of one candidate. After all candidates fail, the
// last one is reported.
type QueryError struct {
	Candidate models.QueryCandidate
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Candidate.Place, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Events delivers query lifecycle notifications to the presentation layer.
// Nil callbacks are skipped. For a network-backed query all callbacks run on
// the query goroutine; a cache hit calls OnSuccess before Start returns.
type Events struct {
	OnProgress  func(percent int)
	OnSuccess   func(result models.WeatherResult)
	OnFailure   func(message string)
	OnCancelled func()
}

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	MinInterval time.Duration
	Cache       *cache.ResultCache
	Logger      *zap.Logger
	Events      Events
	Now         func() time.Time
}

// Orchestrator runs at most one tiered weather query at a time. It owns the
// result cache and enforces the minimum interval between queries.
type Orchestrator struct {
	client      client.WeatherClient
	cache       *cache.ResultCache
	minInterval time.Duration
	logger      *zap.Logger
	events      Events
	now         func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu          sync.Mutex
	current     *QueryHandle
	lastRequest time.Time
	requested   bool
}

// NewOrchestrator creates an Orchestrator that fetches through c.
func NewOrchestrator(c client.WeatherClient, opts Options) *Orchestrator {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewResultCache(cache.DefaultTTL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		client:      c,
		cache:       opts.Cache,
		minInterval: opts.MinInterval,
		logger:      opts.Logger,
		events:      opts.Events,
		now:         opts.Now,
		ctx:         ctx,
		stop:        stop,
	}
}

// Start begins a query for sel. It fails synchronously with ErrBusy while
// another query runs, ErrRateLimited within MinInterval of the last accepted
// Start, or ErrValidation for an incomplete selection. A fresh cached result
// completes the returned handle immediately.
func (o *Orchestrator) Start(sel models.LocationSelection) (*QueryHandle, error) {
	o.mu.Lock()

	if o.current != nil {
		id := o.current.ID
		o.mu.Unlock()
		o.reject(apperrors.CategoryBusy)
		return nil, fmt.Errorf("%w: query %s is still running", apperrors.ErrBusy, id)
	}

	now := o.now()
	if o.requested && now.Sub(o.lastRequest) < o.minInterval {
		o.mu.Unlock()
		o.reject(apperrors.CategoryRateLimited)
		return nil, apperrors.ErrRateLimited
	}
	o.lastRequest = now
	o.requested = true

	cands, err := planner.Plan(sel)
	if err != nil {
		o.mu.Unlock()
		o.reject(apperrors.CategoryValidation)
		return nil, err
	}

	norm := planner.Normalize(sel)
	h := &QueryHandle{
		ID:         uuid.New().String(),
		Selection:  norm,
		Strategy:   planner.StrategyTrace(cands),
		candidates: cands,
		orch:       o,
		state:      StateRunning,
		done:       make(chan struct{}),
	}
	observability.RecordQuery(norm.Province)

	key := planner.CacheKey(sel)
	if res, ok := o.cache.Get(key); ok {
		o.mu.Unlock()
		res.FromCache = true
		observability.CacheHitsTotal.Inc()
		observability.QueriesTotal.WithLabelValues("cached").Inc()
		o.logger.Info("query served from cache",
			zap.String("query_id", h.ID),
			zap.String("key", key),
			zap.String("query_level", res.QueryLevel),
		)
		h.complete(StateSucceeded, res, nil, progressDone)
		if o.events.OnSuccess != nil {
			o.events.OnSuccess(res)
		}
		close(h.done)
		return h, nil
	}

	o.current = h
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Info("query started",
		zap.String("query_id", h.ID),
		zap.String("key", key),
		zap.String("strategy", h.Strategy),
	)
	go o.run(h, key)
	return h, nil
}

func (o *Orchestrator) reject(reason apperrors.Category) {
	observability.QueryRejectionsTotal.WithLabelValues(string(reason)).Inc()
	o.logger.Debug("query rejected", zap.String("reason", string(reason)))
}

// run tries each candidate in order until one succeeds, all fail, or the
// query is cancelled. It is the only writer of the cache for this query.
func (o *Orchestrator) run(h *QueryHandle, key string) {
	defer o.wg.Done()
	start := time.Now()

	o.progress(h, progressStart)

	// Upstream requests carry the query id as their correlation id.
	fetchCtx := context.WithValue(o.ctx, "correlation_id", h.ID)

	var lastErr *QueryError
	n := len(h.candidates)
	for i, cand := range h.candidates {
		if o.stopped(h) {
			o.finish(h, key, models.WeatherResult{}, lastErr, start)
			return
		}
		o.progress(h, progressFirst+i*progressSpan/n)

		o.logger.Debug("querying candidate",
			zap.String("query_id", h.ID),
			zap.String("label", cand.Label),
		)
		res, err := o.client.Fetch(fetchCtx, cand)
		if o.stopped(h) {
			o.logger.Debug("discarding in-flight result after cancel",
				zap.String("query_id", h.ID),
				zap.String("label", cand.Label),
			)
			o.finish(h, key, models.WeatherResult{}, lastErr, start)
			return
		}
		if err != nil {
			lastErr = &QueryError{Candidate: cand, Err: err}
			observability.CandidateAttemptsTotal.WithLabelValues(string(cand.Tier), string(apperrors.Categorize(err))).Inc()
			o.logger.Warn("candidate failed",
				zap.String("query_id", h.ID),
				zap.String("label", cand.Label),
				zap.Error(err),
			)
			continue
		}
		observability.CandidateAttemptsTotal.WithLabelValues(string(cand.Tier), "success").Inc()
		o.finish(h, key, res, nil, start)
		return
	}
	o.finish(h, key, models.WeatherResult{}, lastErr, start)
}

func (o *Orchestrator) stopped(h *QueryHandle) bool {
	return h.cancelled.Load() || o.ctx.Err() != nil
}

// finish reports progress 100, commits the terminal state and emits exactly
// one terminal event. A cancel that lands before the commit wins.
func (o *Orchestrator) finish(h *QueryHandle, key string, res models.WeatherResult, failure *QueryError, start time.Time) {
	o.progress(h, progressDone)

	o.mu.Lock()
	var state State
	switch {
	case o.stopped(h):
		state = StateCancelled
	case failure != nil:
		state = StateFailed
	default:
		state = StateSucceeded
		o.cache.Put(key, res)
		observability.CacheEntries.Set(float64(o.cache.Size()))
	}
	var err error
	switch state {
	case StateCancelled:
		err = ErrCancelled
		res = models.WeatherResult{}
	case StateFailed:
		err = failure
	}
	h.complete(state, res, err, progressDone)
	o.current = nil
	o.mu.Unlock()

	outcome := string(state)
	observability.QueriesTotal.WithLabelValues(outcome).Inc()
	observability.QueryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	fields := []zap.Field{
		zap.String("query_id", h.ID),
		zap.String("outcome", outcome),
		zap.Duration("duration", time.Since(start)),
	}
	switch state {
	case StateSucceeded:
		o.logger.Info("query succeeded", append(fields, zap.String("query_level", res.QueryLevel))...)
		if o.events.OnSuccess != nil {
			o.events.OnSuccess(res)
		}
	case StateFailed:
		o.logger.Warn("query failed", append(fields, zap.Error(failure))...)
		if o.events.OnFailure != nil {
			o.events.OnFailure(failure.Error())
		}
	case StateCancelled:
		o.logger.Info("query cancelled", fields...)
		if o.events.OnCancelled != nil {
			o.events.OnCancelled()
		}
	}
	close(h.done)
}

func (o *Orchestrator) progress(h *QueryHandle, percent int) {
	h.mu.Lock()
	h.progress = percent
	h.mu.Unlock()
	if o.events.OnProgress != nil {
		o.events.OnProgress(percent)
	}
}

// Cancel requests cancellation of h, or of the running query when h is nil.
// It reports whether a running query was signalled. Cancellation takes
// effect before the next candidate; a fetch already in flight completes and
// its result is discarded.
func (o *Orchestrator) Cancel(h *QueryHandle) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h == nil {
		h = o.current
	}
	if h == nil || h != o.current {
		return false
	}
	if h.cancelled.Swap(true) {
		return false
	}
	o.logger.Info("query cancel requested", zap.String("query_id", h.ID))
	return true
}

// Current returns the running query, or nil when idle.
func (o *Orchestrator) Current() *QueryHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// State is StateRunning while a query is in progress and StateIdle otherwise.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		return StateRunning
	}
	return StateIdle
}

// RetryAfter returns how long until Start passes the rate check, or zero.
func (o *Orchestrator) RetryAfter() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.requested {
		return 0
	}
	wait := o.minInterval - o.now().Sub(o.lastRequest)
	if wait < 0 {
		return 0
	}
	return wait
}

// ClearCache drops every cached result.
func (o *Orchestrator) ClearCache() {
	o.mu.Lock()
	o.cache.Clear()
	o.mu.Unlock()
	observability.CacheEntries.Set(0)
	o.logger.Info("result cache cleared")
}

// CacheSize returns the number of cached results, expired ones included.
func (o *Orchestrator) CacheSize() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cache.Size()
}

// Close cancels any running query and waits for its goroutine to exit.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}
