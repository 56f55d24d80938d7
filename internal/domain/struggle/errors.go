package struggle

import "errors"

var (
	ErrInvalidSignal          = errors.New("invalid signal")
	ErrInvalidSessionKey      = errors.New("invalid session key")
	ErrInvalidConsent         = errors.New("invalid consent level")
	ErrInvalidPredictionInput = errors.New("invalid prediction input")
	ErrInvalidOutcome         = errors.New("invalid intervention outcome")
	ErrSessionNotFound        = errors.New("session not found")
	ErrInterventionNotFound   = errors.New("intervention not found")
	ErrAlreadyActive          = errors.New("session already active")
	ErrCapacityExceeded       = errors.New("session capacity exceeded")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrInsufficientData       = errors.New("insufficient data for prediction")
	ErrCorruptSession         = errors.New("corrupt session state")
	// ErrForbidden is returned when the caller may not act on a session key.
	ErrForbidden = errors.New("forbidden")
)
