package capture

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	bytesPerPixel = 4
	standardFPS   = 20
)

// LocalFileStreamer replays a recorded video through ffmpeg at the target
// frame rate, looping forever so a session can be rehearsed offline.
type LocalFileStreamer struct {
	stopOnce sync.Once

	path      string
	targetFPS uint

	width  int
	height int

	srcWidth  uint16
	srcHeight uint16

	cmd       *exec.Cmd
	frameChan chan image.Image
	errChan   chan error
	stopChan  chan struct{}
}

func NewLocalStreamer(path string, targetFPS uint, width, height int) (*LocalFileStreamer, error) {
	w, h, err := probeVideoDimensions(path)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}

	if targetFPS == 0 {
		targetFPS = standardFPS
	}

	return &LocalFileStreamer{
		path:      path,
		targetFPS: targetFPS,
		srcWidth:  w,
		srcHeight: h,
		width:     width,
		height:    height,
		frameChan: make(chan image.Image, 2),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}, nil
}

func (ls *LocalFileStreamer) Start() error {
	args := []string{
		"-stream_loop", "-1",
		"-re",
		"-i", ls.path,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", ls.targetFPS, ls.width, ls.height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	}

	ls.cmd = exec.Command("ffmpeg", args...)

	stdout, err := ls.cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := ls.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	log.Info().
		Str("path", ls.path).
		Uint16("src_width", ls.srcWidth).
		Uint16("src_height", ls.srcHeight).
		Uint("fps", ls.targetFPS).
		Msg("local stream started")

	go ls.readFrames(stdout)

	return nil
}

func (ls *LocalFileStreamer) readFrames(stdout io.ReadCloser) {
	defer close(ls.frameChan)
	defer close(ls.errChan)
	defer stdout.Close()
	defer ls.stopCmd()

	ticker := time.NewTicker(time.Second / time.Duration(ls.targetFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ls.stopChan:
			return

		case <-ticker.C:
			img, err := readRGBA(stdout, ls.width, ls.height)
			if err != nil {
				select {
				case <-ls.stopChan:
				default:
					ls.errChan <- err
				}
				return
			}

			// Newest frame wins when the consumer lags.
			select {
			case ls.frameChan <- img:
			case <-ls.stopChan:
				return
			default:
			}
		}
	}
}

func (ls *LocalFileStreamer) stopCmd() {
	stopProcess(ls.cmd)
}

func (ls *LocalFileStreamer) Stop() {
	ls.stopOnce.Do(func() {
		close(ls.stopChan)
		ls.stopCmd()
	})
}

func (ls *LocalFileStreamer) FrameChan() <-chan image.Image {
	return ls.frameChan
}

func (ls *LocalFileStreamer) ErrorChan() <-chan error {
	return ls.errChan
}

// readRGBA reads exactly one raw RGBA frame from r.
func readRGBA(r io.Reader, width, height int) (*image.RGBA, error) {
	pix := make([]byte, width*height*bytesPerPixel)
	if _, err := io.ReadFull(r, pix); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	return &image.RGBA{
		Pix:    pix,
		Stride: width * bytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

func stopProcess(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

type probeData struct {
	Streams []struct {
		Width  uint16 `json:"width"`
		Height uint16 `json:"height"`
	} `json:"streams"`
}

func probeVideoDimensions(path string) (uint16, uint16, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, 0, err
	}

	return parseProbe(output)
}

func parseProbe(output []byte) (uint16, uint16, error) {
	var data probeData
	if err := json.Unmarshal(output, &data); err != nil {
		return 0, 0, err
	}

	if len(data.Streams) == 0 {
		return 0, 0, errors.New("no video streams found")
	}

	return data.Streams[0].Width, data.Streams[0].Height, nil
}
