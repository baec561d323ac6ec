package httpclient

import (
	"errors"
	"fmt"
	"io"
)

// ResponseTooLargeError marks a body that would not fit under the caller's
// byte limit. Callers get this instead of a truncated slice so they never
// parse partial JSON.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body larger than %d bytes", e.Limit)
}

// IsResponseTooLarge reports whether err is a body-limit violation.
func IsResponseTooLarge(err error) bool {
	var tooLarge ResponseTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadAllWithLimit drains r up to limit bytes, failing with
// ResponseTooLargeError when the body keeps going past it. A non-positive
// limit reads everything.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	// One byte past the limit is enough to tell "exactly at" from "over".
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
