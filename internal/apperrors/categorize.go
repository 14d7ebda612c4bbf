package apperrors

import (
	"context"
	"errors"
)

// Category is a stable label for error classification in metrics.
type Category string

// Category constants used as metric labels (candidateAttemptsTotal, httpErrorsTotal).
const (
	CategoryValidation  Category = "validation"
	CategoryNetwork     Category = "network"
	CategoryTimeout     Category = "timeout"
	CategoryRateLimited Category = "rate_limited"
	CategoryBusy        Category = "busy"
	CategoryData        Category = "data"
	CategoryCanceled    Category = "canceled"
	CategoryUnknown     Category = "unknown"
)

// Categorize maps an error to a stable Category. Returns "" for nil.
func Categorize(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategoryCanceled
	case errors.Is(err, ErrNetwork):
		return CategoryNetwork
	case errors.Is(err, ErrValidation):
		return CategoryValidation
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimited
	case errors.Is(err, ErrBusy):
		return CategoryBusy
	case errors.Is(err, ErrData):
		return CategoryData
	}
	return CategoryUnknown
}
