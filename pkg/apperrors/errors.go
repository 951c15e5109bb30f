package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnsupportedOperation = errors.New("operation not supported on this engine")
	ErrUnsupportedEngine    = errors.New("unsupported database engine")

	// ErrNotImplemented is returned by the abstract capability set. Seeing it
	// means a connection was used for introspection without an engine
	// capability set attached.
	ErrNotImplemented = errors.New("not implemented by this engine's capability set")
)

// UnsupportedOperationError reports an operation the attached engine cannot
// perform, e.g. adding a foreign key to an existing SQLite table.
type UnsupportedOperationError struct {
	Engine    string
	Operation string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s does not support %s: %s", e.Engine, e.Operation, e.Reason)
	}
	return fmt.Sprintf("%s does not support %s", e.Engine, e.Operation)
}

// Is makes errors.Is(err, ErrUnsupportedOperation) true for this type.
func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}

// NewUnsupportedOperationError creates an UnsupportedOperationError.
func NewUnsupportedOperationError(engine, operation, reason string) *UnsupportedOperationError {
	return &UnsupportedOperationError{
		Engine:    engine,
		Operation: operation,
		Reason:    reason,
	}
}

// InvalidArgumentf returns an error wrapping ErrInvalidArgument.
func InvalidArgumentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotImplemented returns an error wrapping ErrNotImplemented for operation.
func NotImplemented(operation string) error {
	return fmt.Errorf("%s: %w", operation, ErrNotImplemented)
}
