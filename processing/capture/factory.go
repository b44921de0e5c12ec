package capture

import (
	"errors"
	"fmt"
	"os"

	config "pokerassist/internal/config"
)

// NewStreamer builds the frame source selected in the config. Frames come
// out at ScaledWidth x ScaledHeight; squaring them is left to the consumer.
func NewStreamer(cfg *config.Config) (VideoStreamer, error) {
	fps, width, height := cfg.GetFPS(), cfg.GetWidth(), cfg.GetHeight()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	switch cfg.ActiveSource {
	case config.SourceWebcam:
		if cfg.Webcam.DeviceID == "" {
			return nil, errors.New("webcam device required")
		}
		return NewFFmpegWebcam(cfg.Webcam.DeviceID, fps, width, height), nil

	case config.SourceLocal:
		if _, err := os.Stat(cfg.Local.Path); err != nil {
			return nil, fmt.Errorf("video file: %w", err)
		}
		return NewLocalStreamer(cfg.Local.Path, fps, width, height)

	default:
		return nil, fmt.Errorf("unknown source: %s", cfg.ActiveSource)
	}
}
