package processing

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy rejects a scan request because the slot is taken or a capture is pending.
	// It is a policy decision, not a failure.
	ErrBusy = errors.New("inference slot busy")

	// ErrCaptureInProgress rejects a capture while another capture is pending.
	ErrCaptureInProgress = errors.New("capture already in progress")

	ErrInvalidImage = errors.New("invalid image")
	ErrInvalidURL   = errors.New("invalid endpoint url")
	ErrDecoding     = errors.New("decode inference response")
	ErrTimeout      = errors.New("inference request timed out")
	ErrNoFrame      = errors.New("no frame received yet")
)

type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("inference server status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("inference server status code: %d, body: %s", e.StatusCode, e.Body)
}
