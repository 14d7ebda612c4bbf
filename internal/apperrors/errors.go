// Package apperrors holds the error taxonomy shared by the catalog, planner,
// client and orchestrator. Callers wrap these sentinels with fmt.Errorf("%w")
// and match them with errors.Is.
package apperrors

import "errors"

var (
	// ErrValidation marks an incomplete selection or an unusable API payload.
	ErrValidation = errors.New("validation failed")
	// ErrNetwork marks a transport failure or a non-success HTTP status.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout marks a request that got no response within its budget.
	ErrTimeout = errors.New("request timed out")
	// ErrRateLimited is returned when a query is started too soon after the previous one.
	ErrRateLimited = errors.New("too many requests, try again later")
	// ErrBusy is returned when a query is started while another is running.
	ErrBusy = errors.New("a query is already running")
	// ErrData marks a malformed or empty location dataset. Fatal at startup.
	ErrData = errors.New("invalid location data")
)
