package models

import "errors"

// Sentinel errors shared across the search pipeline.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidModelCode marks a term set that contains an interaction
	// without both of its linear parents. Such codes are never persisted or scored.
	ErrInvalidModelCode = errors.New("invalid model code")

	// ErrResumeStateCorruption means the persisted record count for a model
	// size exceeds the number of valid codes that size can have.
	ErrResumeStateCorruption = errors.New("resume state corruption")

	// ErrDegenerateResponse means a context's response values have zero range.
	ErrDegenerateResponse = errors.New("degenerate response")

	// ErrStoreUnavailable wraps persistence I/O failures.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Kind names the error class of err for reports.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidModelCode):
		return "invalid_model_code"
	case errors.Is(err, ErrResumeStateCorruption):
		return "resume_state_corruption"
	case errors.Is(err, ErrDegenerateResponse):
		return "degenerate_response"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "unknown"
	}
}
