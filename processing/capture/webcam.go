package capture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os/exec"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
)

type FFmpegWebcamStreamer struct {
	stopOnce sync.Once

	device    string
	width     int
	height    int
	targetFPS uint

	cmd       *exec.Cmd
	stderr    bytes.Buffer
	frameChan chan image.Image
	errChan   chan error
	stopChan  chan struct{}
}

func NewFFmpegWebcam(device string, targetFPS uint, width, height int) *FFmpegWebcamStreamer {
	if targetFPS == 0 {
		targetFPS = standardFPS
	}

	return &FFmpegWebcamStreamer{
		device:    device,
		width:     width,
		height:    height,
		targetFPS: targetFPS,
		frameChan: make(chan image.Image, 1),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}
}

func webcamInputArgs(goos, device string) []string {
	switch goos {
	case "windows":
		return []string{"-f", "dshow", "-i", "video=" + device}
	case "darwin":
		return []string{"-f", "avfoundation", "-i", device}
	default:
		return []string{"-f", "v4l2", "-i", device}
	}
}

func (ws *FFmpegWebcamStreamer) Start() error {
	args := append(webcamInputArgs(runtime.GOOS, ws.device),
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", ws.targetFPS, ws.width, ws.height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	)

	ws.cmd = exec.Command("ffmpeg", args...)
	ws.cmd.Stderr = &ws.stderr

	stdout, err := ws.cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := ws.cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w. Details: %s", err, ws.stderr.String())
	}

	log.Info().Str("device", ws.device).Uint("fps", ws.targetFPS).Msg("webcam stream started")

	go ws.readLoop(stdout)

	return nil
}

func (ws *FFmpegWebcamStreamer) readLoop(stdout io.ReadCloser) {
	defer close(ws.frameChan)
	defer close(ws.errChan)
	defer stdout.Close()
	defer stopProcess(ws.cmd)

	for {
		img, err := readRGBA(stdout, ws.width, ws.height)
		if err != nil {
			select {
			case <-ws.stopChan:
			default:
				ws.errChan <- err
			}
			return
		}

		select {
		case <-ws.stopChan:
			return
		case ws.frameChan <- img:
		default:
		}
	}
}

func (ws *FFmpegWebcamStreamer) Stop() {
	ws.stopOnce.Do(func() {
		close(ws.stopChan)
		stopProcess(ws.cmd)
	})
}

func (ws *FFmpegWebcamStreamer) FrameChan() <-chan image.Image { return ws.frameChan }
func (ws *FFmpegWebcamStreamer) ErrorChan() <-chan error       { return ws.errChan }
