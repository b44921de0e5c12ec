package processing

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pokerassist/internal/config"
	"pokerassist/internal/models"
)

func TestCadenceEveryNth(t *testing.T) {
	c := NewCadence(2)

	var due []uint64
	for i := 0; i < 11; i++ {
		if seq, ok := c.Tick(); ok {
			due = append(due, seq)
		}
	}

	assert.Equal(t, []uint64{2, 4, 6, 8, 10}, due)
	assert.Equal(t, uint64(11), c.Count())
}

func TestCadenceDivisorBounds(t *testing.T) {
	c := NewCadence(0)
	assert.Equal(t, uint(1), c.Divisor())

	_, ok := c.Tick()
	assert.True(t, ok)

	c.SetDivisor(3)
	c.Tick()
	_, ok = c.Tick()
	assert.True(t, ok, "third frame is due")
}

// chanStreamer is a VideoStreamer fed by the test.
type chanStreamer struct {
	frames chan image.Image
	errs   chan error
	once   sync.Once
}

func newChanStreamer() *chanStreamer {
	return &chanStreamer{frames: make(chan image.Image), errs: make(chan error, 1)}
}

func (s *chanStreamer) Start() error                  { return nil }
func (s *chanStreamer) Stop()                         { s.once.Do(func() { close(s.frames) }) }
func (s *chanStreamer) FrameChan() <-chan image.Image { return s.frames }
func (s *chanStreamer) ErrorChan() <-chan error       { return s.errs }

// indexEndpoint reads back the frame index written into pixel (0,0).
type indexEndpoint struct {
	mu      sync.Mutex
	indices []int
	resp    *models.InferenceResponse
	err     error
}

func (e *indexEndpoint) Infer(_ context.Context, img image.Image) (*models.InferenceResponse, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	e.mu.Lock()
	e.indices = append(e.indices, int(r>>8))
	e.mu.Unlock()
	return e.resp, e.err
}

func (e *indexEndpoint) Indices() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.indices...)
}

func indexedFrame(i int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.RGBA{R: uint8(i), A: 255})
	return img
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.InputSize = 8
	cfg.SetCadence(2)
	return cfg
}

func waitIdle(t *testing.T, p *Processor, completed uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		m := p.Scheduler().Metrics()
		return m.Completed+m.Failed == completed && !p.Scheduler().State().Busy
	}, 2*time.Second, time.Millisecond)
}

func TestProcessorSubmitsEveryOtherFrame(t *testing.T) {
	ep := &indexEndpoint{resp: &models.InferenceResponse{
		Success:    true,
		Detections: []models.Detection{{Label: "AS"}},
	}}

	var mu sync.Mutex
	var scans int
	p := NewProcessor(testConfig(), ep, Sinks{
		OnScan: func(d []models.Detection) {
			mu.Lock()
			scans++
			mu.Unlock()
		},
		OnCapture: func([]models.Detection) { t.Error("scan result routed to capture sink") },
	})

	src := newChanStreamer()
	require.NoError(t, p.Start(context.Background(), src))

	const n = 9
	var submitted uint64
	for i := 1; i <= n; i++ {
		src.frames <- indexedFrame(i)
		if i%2 == 0 {
			submitted++
			waitIdle(t, p, submitted)
		}
	}

	src.Stop()
	p.Stop()

	assert.Equal(t, []int{2, 4, 6, 8}, ep.Indices())
	mu.Lock()
	assert.Equal(t, n/2, scans)
	mu.Unlock()

	st := p.Status()
	assert.False(t, st.Active)
	assert.Equal(t, uint64(n), st.FramesSeen)
}

func TestProcessorDropsUnsuccessfulScans(t *testing.T) {
	ep := &indexEndpoint{resp: &models.InferenceResponse{Success: false}}
	p := NewProcessor(testConfig(), ep, Sinks{
		OnScan: func([]models.Detection) { t.Error("unsuccessful scan delivered") },
	})

	src := newChanStreamer()
	require.NoError(t, p.Start(context.Background(), src))
	src.frames <- indexedFrame(1)
	src.frames <- indexedFrame(2)
	waitIdle(t, p, 1)

	src.Stop()
	p.Stop()
}

func TestCaptureUsesLatestFrame(t *testing.T) {
	latency := 12.5
	ep := &indexEndpoint{resp: &models.InferenceResponse{
		Success:         true,
		Detections:      []models.Detection{{Label: "KD"}, {Label: "QD"}},
		InferenceTimeMs: &latency,
	}}

	cfg := testConfig()
	cfg.SetCadence(100)

	var got []models.Detection
	p := NewProcessor(cfg, ep, Sinks{
		OnCapture: func(d []models.Detection) { got = d },
	})

	src := newChanStreamer()
	require.NoError(t, p.Start(context.Background(), src))
	src.frames <- indexedFrame(1)
	src.frames <- indexedFrame(7)
	require.Eventually(t, func() bool { return p.Status().FramesSeen == 2 }, time.Second, time.Millisecond)

	resp, err := p.Capture()
	require.NoError(t, err)
	assert.Len(t, resp.Detections, 2)
	assert.Equal(t, []int{7}, ep.Indices())
	assert.Len(t, got, 2)
	assert.Equal(t, 12.5, p.Status().LastInferenceMs)

	preview := p.Preview()
	require.NotNil(t, preview)
	assert.Equal(t, 8, preview.Bounds().Dx())

	src.Stop()
	p.Stop()
}

func TestCaptureWithoutFrame(t *testing.T) {
	var notified error
	p := NewProcessor(testConfig(), &indexEndpoint{}, Sinks{
		OnCaptureError: func(err error) { notified = err },
	})

	_, err := p.Capture()
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.ErrorIs(t, notified, ErrNoFrame)
	assert.Nil(t, p.Preview())
}

func TestCaptureFailureNotifiesOnce(t *testing.T) {
	var notified []error
	ep := &indexEndpoint{err: &ServerError{StatusCode: 502}}
	p := NewProcessor(testConfig(), ep, Sinks{
		OnCapture:      func([]models.Detection) { t.Error("failed capture delivered") },
		OnCaptureError: func(err error) { notified = append(notified, err) },
	})
	p.latest = indexedFrame(3)

	_, err := p.Capture()
	require.Error(t, err)
	require.Len(t, notified, 1)
	assert.Equal(t, SchedulerState{}, p.Scheduler().State())
}

func TestProcessorStartTwice(t *testing.T) {
	p := NewProcessor(testConfig(), &indexEndpoint{}, Sinks{})
	src := newChanStreamer()

	require.NoError(t, p.Start(context.Background(), src))
	assert.Error(t, p.Start(context.Background(), src))

	src.Stop()
	p.Stop()
}

func TestProcessorStopsOnStreamError(t *testing.T) {
	p := NewProcessor(testConfig(), &indexEndpoint{}, Sinks{})
	src := newChanStreamer()
	require.NoError(t, p.Start(context.Background(), src))

	src.errs <- assert.AnError
	require.Eventually(t, func() bool { return !p.Status().Active }, time.Second, time.Millisecond)
	p.Stop()
}
