package podcast

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a script or request that must change before a retry can succeed.
	ErrValidation = errors.New("validation error")
	// ErrVoiceExhaustion is returned when a speaker's gender bucket has no unused voice left.
	ErrVoiceExhaustion = errors.New("voice exhaustion")
	// ErrSynthesis marks a turn that could not be rendered within its retry budget.
	ErrSynthesis = errors.New("synthesis failure")
	// ErrUpload marks an artifact upload that failed after retries.
	ErrUpload = errors.New("upload failure")
	// ErrPersistence marks a task store write that the run cannot continue without.
	ErrPersistence = errors.New("persistence failure")
)

// SynthesisError records which turn failed and how many attempts were spent on it.
type SynthesisError struct {
	Ordinal  int
	Attempts int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed for turn %d after %d attempts: %v", e.Ordinal, e.Attempts, e.Err)
}

func (e *SynthesisError) Unwrap() []error {
	return []error{ErrSynthesis, e.Err}
}

// Validationf builds an ErrValidation-wrapped error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
