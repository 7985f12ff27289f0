package billing

import (
	"github.com/cockroachdb/errors"
)

// Failure classes. Both the standard library's errors.Is and cockroachdb/errors.Is
// find them in any error returned by the engine.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrProviderNotFound = errors.New("provider not found")
	ErrTariffNotFound   = errors.New("tariff not found")
	ErrRepository       = errors.New("repository error")
)

// classError puts a failure class in the error chain without changing the message.
type classError struct {
	class error
	cause error
}

func (e *classError) Error() string        { return e.cause.Error() }
func (e *classError) Unwrap() error        { return e.cause }
func (e *classError) Is(target error) bool { return target == e.class }

func withClass(err, class error) error {
	return &classError{class: class, cause: errors.Mark(err, class)}
}

func invalidInput(err error) error {
	return withClass(errors.Wrap(err, "invalid bill request"), ErrInvalidInput)
}

func repositoryError(err error, op string) error {
	return withClass(errors.Wrapf(err, "tariff repository: %s", op), ErrRepository)
}

// Class returns a stable short name for the failure class of err.
func Class(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, ErrTariffNotFound):
		return "tariff_not_found"
	case errors.Is(err, ErrRepository):
		return "repository_error"
	default:
		return "internal"
	}
}
