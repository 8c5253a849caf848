package httpclient

import (
	"fmt"
	"io"
)

// ResponseTooLargeError reports a collaborator response body that exceeded
// the caller's cap.
type ResponseTooLargeError struct {
	Limit int64
}

func (e ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response body exceeded %d bytes", e.Limit)
}

// ReadAllWithLimit drains r up to limit bytes and errors beyond that, so a
// misbehaving collaborator cannot balloon memory. A limit <= 0 means
// unbounded.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ResponseTooLargeError{Limit: limit}
	}
	return data, nil
}
