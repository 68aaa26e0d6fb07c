package resilience

import "errors"

var (
	// ErrCircuitOpen — breaker открыт, вызов отклонён без выполнения.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout — вызов не уложился в таймаут попытки.
	ErrTimeout = errors.New("operation timed out")
)

// permanentError — ошибка, которую бессмысленно повторять.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent возвращает true для ошибок, помеченных Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
