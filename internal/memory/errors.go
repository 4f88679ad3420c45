package memory

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error. Handlers map kinds to the error tags
// clients see; everything else is treated as an internal failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindCapacity
	KindRateLimit
	KindPoolExhausted
	KindStorageIntegrity
	KindPermission
	KindSchemaVersion
)

// Tag returns the wire-visible tag for a kind.
func (k Kind) Tag() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindCapacity:
		return "CAPACITY_ERROR"
	case KindRateLimit:
		return "RATE_LIMIT_EXCEEDED"
	case KindPoolExhausted:
		return "POOL_EXHAUSTED"
	case KindStorageIntegrity:
		return "STORAGE_INTEGRITY_ERROR"
	case KindPermission:
		return "PERMISSION_ERROR"
	case KindSchemaVersion:
		return "SCHEMA_VERSION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind.Tag(), e.Message)
}

// Errorf builds a classified error.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
