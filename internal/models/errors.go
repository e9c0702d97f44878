package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by a capture-analyze-alert run. Match with errors.Is.
var (
	ErrCapture   = errors.New("capture failed")
	ErrAnalysis  = errors.New("analysis failed")
	ErrSynthesis = errors.New("speech synthesis failed")
	ErrTransport = errors.New("transport failed")
)

// SynthesisError reports that a valid threatening judgment could not be voiced.
// The judgment it travels with is still good.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%v: %v", ErrSynthesis, e.Err)
}

func (e *SynthesisError) Unwrap() []error {
	return []error{ErrSynthesis, e.Err}
}
