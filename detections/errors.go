package detections

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a cycle produced no detections.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindShapeMismatch
	KindInvalidModelOutput
	KindInferenceUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindShapeMismatch:
		return "shape_mismatch"
	case KindInvalidModelOutput:
		return "invalid_model_output"
	case KindInferenceUnavailable:
		return "inference_unavailable"
	default:
		return "unknown"
	}
}

var (
	ErrShapeMismatch        = &ProcessingError{Kind: KindShapeMismatch, Message: "output shape mismatch"}
	ErrInvalidModelOutput   = &ProcessingError{Kind: KindInvalidModelOutput, Message: "invalid model output"}
	ErrInferenceUnavailable = &ProcessingError{Kind: KindInferenceUnavailable, Message: "inference unavailable"}
)

type ProcessingError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches any ProcessingError of the same kind, so a wrapped error with
// its own message still satisfies errors.Is(err, ErrShapeMismatch).
func (e *ProcessingError) Is(target error) bool {
	var pe *ProcessingError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Kind == e.Kind
}

func shapeMismatch(format string, args ...interface{}) error {
	return &ProcessingError{Kind: KindShapeMismatch, Message: fmt.Sprintf(format, args...)}
}

func invalidModelOutput(format string, args ...interface{}) error {
	return &ProcessingError{Kind: KindInvalidModelOutput, Message: fmt.Sprintf(format, args...)}
}

// InferenceUnavailable wraps a failure of the inference engine.
func InferenceUnavailable(cause error) error {
	return &ProcessingError{Kind: KindInferenceUnavailable, Message: "inference unavailable", Cause: cause}
}

// KindOf reports the kind of the first ProcessingError in err's chain.
func KindOf(err error) ErrorKind {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Recoverable reports whether err is expected to clear up on a later cycle.
// An invalid model output means the model itself does not fit the decoder
// and will keep failing.
func Recoverable(err error) bool {
	return KindOf(err) != KindInvalidModelOutput
}
