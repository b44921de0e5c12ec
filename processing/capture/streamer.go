package capture

import (
	"image"
)

// VideoStreamer delivers decoded frames until stopped or failed.
// FrameChan is closed when the stream ends.
type VideoStreamer interface {
	Start() error
	Stop()
	FrameChan() <-chan image.Image
	ErrorChan() <-chan error
}
