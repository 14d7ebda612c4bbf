package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kjstillabower/cnweather/internal/models"
)

// State is the lifecycle state of a query.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final query state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// QueryHandle tracks one query started by an Orchestrator.
type QueryHandle struct {
	ID        string
	Selection models.LocationSelection
	Strategy  string

	candidates []models.QueryCandidate

	orch      *Orchestrator
	cancelled atomic.Bool
	done      chan struct{}

	mu       sync.Mutex
	state    State
	progress int
	result   models.WeatherResult
	err      error
}

func (h *QueryHandle) complete(state State, res models.WeatherResult, err error, progress int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.result = res
	h.err = err
	h.progress = progress
}

// Candidates returns a copy of the fallback candidates in the order they are tried.
func (h *QueryHandle) Candidates() []models.QueryCandidate {
	out := make([]models.QueryCandidate, len(h.candidates))
	copy(out, h.candidates)
	return out
}

// State returns the current state of the query.
func (h *QueryHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Progress returns the last reported progress percentage.
func (h *QueryHandle) Progress() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Done is closed after the terminal event has been delivered.
func (h *QueryHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the weather result of a succeeded query.
func (h *QueryHandle) Result() models.WeatherResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Err returns nil on success, a *QueryError after all candidates failed, or
// ErrCancelled.
func (h *QueryHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the query finishes or ctx is done.
func (h *QueryHandle) Wait(ctx context.Context) (models.WeatherResult, error) {
	select {
	case <-h.done:
		return h.Result(), h.Err()
	case <-ctx.Done():
		return models.WeatherResult{}, ctx.Err()
	}
}

// Cancel requests cancellation. See Orchestrator.Cancel.
func (h *QueryHandle) Cancel() bool {
	return h.orch.Cancel(h)
}
