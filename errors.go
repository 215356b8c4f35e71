package logkit

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrNotInitialized is returned when a client is created before
	// [Initialize] has been called.
	ErrNotInitialized = errors.New("logkit has not been initialized")

	// ErrClientClosed is returned by operations on a closed [Client].
	ErrClientClosed = errors.New("client is closed")

	// ErrEndOfStream is returned by [Reader.Read] when every log the reader
	// is reading from has been exhausted, or when it is not reading from any
	// logs.
	ErrEndOfStream = errors.New("end of stream")

	// ErrWriterClosed is returned by [BufferedWriter.Write] after the writer
	// has been closed.
	ErrWriterClosed = errors.New("buffered writer is closed")

	// ErrWriterFull is returned by [BufferedWriter.Write] when accepting the
	// payload would exceed the writer's memory limit.
	ErrWriterFull = errors.New("buffered writer is full")
)

// ConnectionError is returned when a client can not be constructed from a
// locator.
type ConnectionError struct {
	Locator string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to %s: %s", redact(e.Locator), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// redact removes credentials from a locator so that it can be included in
// error messages.
func redact(loc string) string {
	u, err := url.Parse(loc)
	if err != nil {
		return "<invalid locator>"
	}

	q := u.Query()
	for _, k := range []string{"password", "secret_key"} {
		if q.Has(k) {
			q.Set(k, "xxxxx")
		}
	}
	u.RawQuery = q.Encode()

	return u.Redacted()
}
