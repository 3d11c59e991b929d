package query

import "fmt"

// InvalidParamsError is a client error. Detail is the exact message
// returned to the caller.
type InvalidParamsError struct {
	Detail string
}

func (e *InvalidParamsError) Error() string {
	return e.Detail
}

func invalidParams(format string, args ...interface{}) error {
	return &InvalidParamsError{Detail: fmt.Sprintf(format, args...)}
}

// ErrTooManyBuckets is returned when the requested date range and
// interval would produce more buckets than the configured limit.
func errTooManyBuckets() error {
	return invalidParams("Your interval and date range would create too many results. Use a larger interval, or a smaller date range.")
}
