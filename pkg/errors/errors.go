package errors

import (
	"errors"
	"fmt"
)

// Kind classifies translator failures by how they are recovered.
type Kind int

const (
	// KindCapacity means the code arena or the constant pool of a unit ran out.
	// Recovered by clearing the whole block cache and retrying the unit.
	KindCapacity Kind = iota + 1
	// KindGuestMemory means guest code could not be fetched from mapped memory.
	KindGuestMemory
	// KindInvalidation means a cached block was found stale.
	KindInvalidation
	// KindConfig means a configuration value was rejected.
	KindConfig
	// KindInternal means the translator produced or rejected a unit it
	// should have handled. It is never recovered silently.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindCapacity:
		return "capacity"
	case KindGuestMemory:
		return "guest memory"
	case KindInvalidation:
		return "invalidation"
	case KindConfig:
		return "config"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type TranslationError struct {
	Kind    Kind
	Address uint32
	Message string
	Cause   error
}

func (e *TranslationError) Error() string {
	msg := fmt.Sprintf("%s at 0x%08x: %s", e.Kind, e.Address, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// ErrCodeSpaceExhausted is wrapped by every capacity failure.
var ErrCodeSpaceExhausted = errors.New("code space exhausted")

// IsCapacity reports whether err is a translation-capacity failure.
func IsCapacity(err error) bool {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Kind == KindCapacity
	}
	return errors.Is(err, ErrCodeSpaceExhausted)
}

// IsGuestMemory reports whether err came from an unmapped instruction fetch.
func IsGuestMemory(err error) bool {
	var te *TranslationError
	return errors.As(err, &te) && te.Kind == KindGuestMemory
}

// IsInternal reports whether err is a translator defect.
func IsInternal(err error) bool {
	var te *TranslationError
	return errors.As(err, &te) && te.Kind == KindInternal
}

// Capacityf creates a capacity error for the unit starting at addr.
func Capacityf(addr uint32, format string, args ...interface{}) *TranslationError {
	return &TranslationError{
		Kind:    KindCapacity,
		Address: addr,
		Message: fmt.Sprintf(format, args...),
		Cause:   ErrCodeSpaceExhausted,
	}
}

// WrapTranslationError wraps an existing error with a kind and guest address.
func WrapTranslationError(err error, kind Kind, addr uint32, message string) *TranslationError {
	return &TranslationError{
		Kind:    kind,
		Address: addr,
		Message: message,
		Cause:   err,
	}
}

// TranslationErrorf creates a new error with formatted message
func TranslationErrorf(kind Kind, addr uint32, format string, args ...interface{}) *TranslationError {
	return &TranslationError{
		Kind:    kind,
		Address: addr,
		Message: fmt.Sprintf(format, args...),
	}
}
