package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/fableforge/fableforge/internal/fault"
)

// Classify maps a raw error from an external call into the shared taxonomy.
// Errors already classified pass through unchanged. Timeouts and connection
// failures become retryable transient errors; everything else is returned
// as-is and aborts the retry loop.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var ve *fault.ValidationError
	var te *fault.TransientError
	var ne *fault.NoProviderError
	var ee *fault.ExhaustedError
	if errors.As(err, &ve) || errors.As(err, &te) || errors.As(err, &ne) || errors.As(err, &ee) {
		return err
	}

	if isTimeoutError(err) {
		return fault.Timeout(op, err)
	}
	if isConnectionError(err) {
		return fault.Transient(op, err)
	}

	return err
}

// ClassifyHTTPStatus maps an HTTP response status into the taxonomy:
// 5xx-equivalent and 408/429 are transient, other 4xx are validation
// failures, anything below 400 is success.
func ClassifyHTTPStatus(op string, statusCode int) error {
	switch {
	case statusCode < http.StatusBadRequest:
		return nil
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= http.StatusInternalServerError:
		return fault.Transient(op, errors.New(http.StatusText(statusCode)))
	default:
		return fault.NewValidation(op, "provider rejected request: "+http.StatusText(statusCode))
	}
}

// isTimeoutError reports whether the error is a deadline or timeout.
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

// isConnectionError reports whether the error is a network-level failure.
func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
