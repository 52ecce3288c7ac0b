package cpejobs

import (
	stderr "errors"
	"fmt"

	"github.com/roadrunner-server/errors"
)

// Kind classifies an SDK failure so callers can branch on it instead of
// matching messages.
type Kind uint8

const (
	Undefined Kind = iota
	// ConfigError - missing credentials or region, the SDK can't start.
	ConfigError
	// ValidationError - malformed or incomplete client, workflow input or payload.
	ValidationError
	// CredentialError - role assumption or queue handle derivation failed.
	CredentialError
	// QueueError - send, receive or delete failed at the transport level.
	QueueError
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "config error"
	case ValidationError:
		return "validation error"
	case CredentialError:
		return "credential error"
	case QueueError:
		return "queue error"
	default:
		return "undefined error"
	}
}

// ErrRetain may be returned from a Handler to leave the message in the queue
// without logging it as a failure.
var ErrRetain = stderr.New("retain message")

// Error is the error type returned by all SDK operations.
type Error struct {
	Kind Kind
	Op   errors.Op
	// Field is the first missing field for validation errors, empty otherwise.
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(k Kind, err error) bool {
	var e *Error
	if !stderr.As(err, &e) {
		return false
	}

	return e.Kind == k
}

func newError(op errors.Op, k Kind, err error) error {
	// already classified below us, keep the original kind
	var e *Error
	if stderr.As(err, &e) {
		return &Error{Kind: e.Kind, Op: op, Field: e.Field, Err: err}
	}

	return &Error{Kind: k, Op: op, Err: err}
}

func missing(op errors.Op, field string) error {
	return &Error{
		Kind:  ValidationError,
		Op:    op,
		Field: field,
		Err:   errors.Errorf("'%s' is missing", field),
	}
}

func invalid(op errors.Op, msg string, err error) error {
	if err == nil {
		return &Error{Kind: ValidationError, Op: op, Err: errors.Str(msg)}
	}

	return &Error{Kind: ValidationError, Op: op, Err: fmt.Errorf("%s: %w", msg, err)}
}
