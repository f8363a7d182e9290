package deploy

import "errors"

var (
	// ErrNotFound indicates the management service has no such entity.
	ErrNotFound = errors.New("not found")

	// ErrWrongKind indicates the entity exists but is of the wrong category,
	// e.g. a user collection where a device collection is required.
	ErrWrongKind = errors.New("wrong kind")

	// ErrServiceUnavailable indicates a query or command against the
	// management service itself failed.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrUnsafe indicates a safety check blocked the deployment.
	ErrUnsafe = errors.New("unsafe target")

	// ErrDuplicate indicates the deployable is already deployed to the
	// collection.
	ErrDuplicate = errors.New("duplicate deployment")

	// ErrExecutionFailed indicates the deployment creation call failed.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrLogWriteFailed indicates an audit record could not be appended.
	ErrLogWriteFailed = errors.New("audit log write failed")

	// ErrParseSkipped marks one malformed history line or template file that
	// was skipped.
	ErrParseSkipped = errors.New("record skipped")

	// ErrInvalidConfig indicates a structurally invalid DeploymentConfig.
	ErrInvalidConfig = errors.New("invalid deployment configuration")
)

// Error is a classified failure. Reason is the operator-facing sentence and
// is what Error returns; Kind is one of the sentinels above.
type Error struct {
	Kind    error
	Op      string
	Subject string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	msg := e.Op + " " + e.Subject + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the sentinel kind of err, or nil when err is not classified.
func KindOf(err error) error {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for _, k := range []error{
		ErrNotFound, ErrWrongKind, ErrServiceUnavailable, ErrUnsafe, ErrDuplicate,
		ErrExecutionFailed, ErrLogWriteFailed, ErrParseSkipped, ErrInvalidConfig,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
