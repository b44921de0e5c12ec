package processing

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pokerassist/internal/config"
	"pokerassist/internal/models"
	stream "pokerassist/processing/capture"
)

// Status is a snapshot of a streaming session.
type Status struct {
	Active          bool             `json:"active"`
	FPS             uint             `json:"fps"`
	FramesSeen      uint64           `json:"frames_seen"`
	Cadence         uint             `json:"cadence"`
	LastInferenceMs float64          `json:"last_inference_ms"`
	Scheduler       SchedulerState   `json:"scheduler"`
	Metrics         SchedulerMetrics `json:"metrics"`
}

// Processor is one streaming session. It keeps the newest frame, submits
// every Nth frame as a scan request and runs capture requests on demand, all
// through a single Scheduler.
type Processor struct {
	cfg     *config.Config
	sched   *Scheduler
	cadence *Cadence
	sinks   Sinks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	latest          image.Image
	lastDetections  []models.Detection
	lastInferenceMs float64
	fps             uint
	active          bool
	started         bool
}

func NewProcessor(cfg *config.Config, endpoint Endpoint, sinks Sinks) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		cfg:     cfg,
		sched:   NewScheduler(endpoint),
		cadence: NewCadence(cfg.GetCadence()),
		sinks:   sinks,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start consumes frames from in until it closes, fails, Stop is called or
// ctx is done. The streamer must already be started.
func (p *Processor) Start(ctx context.Context, in stream.VideoStreamer) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("processor already started")
	}
	p.started = true
	p.active = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.setActive(false)
		p.run(ctx, in)
	}()

	return nil
}

func (p *Processor) run(ctx context.Context, in stream.VideoStreamer) {
	var frameCount uint
	lastFpsUpdate := time.Now()
	errs := in.ErrorChan()

	for {
		select {
		case frame, ok := <-in.FrameChan():
			if !ok {
				log.Info().Msg("frame stream closed")
				return
			}
			if frame == nil {
				continue
			}

			frame = stream.SquareCrop(frame, p.cfg.GetInputSize())

			p.mu.Lock()
			p.latest = frame
			p.mu.Unlock()

			p.cadence.SetDivisor(p.cfg.GetCadence())
			if _, due := p.cadence.Tick(); due {
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					p.scan(frame)
				}()
			}

			frameCount++
			if time.Since(lastFpsUpdate) >= time.Second {
				p.mu.Lock()
				p.fps = frameCount
				p.mu.Unlock()
				frameCount = 0
				lastFpsUpdate = time.Now()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error().Err(err).Msg("streamer failed")
			return

		case <-ctx.Done():
			return

		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Processor) scan(frame image.Image) {
	resp, err := p.sched.Submit(p.ctx, models.InferenceRequest{Image: frame, Priority: models.PriorityNormal})
	switch {
	case errors.Is(err, ErrBusy):
		log.Debug().Msg("scan frame skipped, slot busy")
		return
	case err != nil:
		log.Warn().Err(err).Msg("scan inference failed")
		return
	}

	if resp.Success {
		p.recordResult(resp)
	}
	p.sinks.deliver(models.PriorityNormal, resp)
}

// Capture submits the newest frame as a high priority request and waits for
// its result. Scans started after this call cannot take the slot first.
func (p *Processor) Capture() (*models.InferenceResponse, error) {
	frame := p.LatestFrame()
	if frame == nil {
		p.sinks.captureFailed(ErrNoFrame)
		return nil, ErrNoFrame
	}

	log.Info().Msg("capture requested")

	resp, err := p.sched.Submit(p.ctx, models.InferenceRequest{Image: frame, Priority: models.PriorityHigh})
	if err != nil {
		log.Error().Err(err).Msg("capture inference failed")
		p.sinks.captureFailed(err)
		return nil, err
	}

	p.recordResult(resp)
	p.sinks.deliver(models.PriorityHigh, resp)

	log.Info().
		Int("detections", len(resp.Detections)).
		Float64("inference_ms", resp.Latency()).
		Msg("capture complete")

	return resp, nil
}

func (p *Processor) recordResult(resp *models.InferenceResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastDetections = resp.Detections
	p.lastInferenceMs = resp.Latency()
}

// Stop ends the session and waits for outstanding requests. In-flight
// endpoint calls are cancelled.
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Processor) setActive(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = v
}

func (p *Processor) LatestFrame() image.Image {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *Processor) Scheduler() *Scheduler {
	return p.sched
}

func (p *Processor) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Status{
		Active:          p.active,
		FPS:             p.fps,
		FramesSeen:      p.cadence.Count(),
		Cadence:         p.cadence.Divisor(),
		LastInferenceMs: p.lastInferenceMs,
		Scheduler:       p.sched.State(),
		Metrics:         p.sched.Metrics(),
	}
}
