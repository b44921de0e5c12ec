package processing

import (
	"context"
	"image"
	"sync"

	"pokerassist/internal/models"
)

// SchedulerState is a point-in-time copy of the slot flags.
type SchedulerState struct {
	Busy            bool `json:"busy"`
	PriorityPending bool `json:"priority_pending"`
}

type SchedulerMetrics struct {
	NormalSubmitted uint64 `json:"normal_submitted"`
	NormalDropped   uint64 `json:"normal_dropped"`
	HighSubmitted   uint64 `json:"high_submitted"`
	HighRejected    uint64 `json:"high_rejected"`
	HighWaited      uint64 `json:"high_waited"`
	Completed       uint64 `json:"completed"`
	Failed          uint64 `json:"failed"`
}

// Scheduler owns the single inference slot against an Endpoint.
//
// Normal requests never wait: they fail with ErrBusy while a call is in
// flight or a high priority request is pending. A high priority request
// marks itself pending on acceptance, which turns away every later normal
// request, then waits for the in-flight call to finish and takes the slot.
// Only one high priority request may be pending; another one fails with
// ErrCaptureInProgress.
type Scheduler struct {
	endpoint Endpoint

	mu              sync.Mutex
	cond            *sync.Cond // broadcast when the slot is released
	busy            bool
	priorityPending bool
	metrics         SchedulerMetrics
}

func NewScheduler(endpoint Endpoint) *Scheduler {
	s := &Scheduler{endpoint: endpoint}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit runs req against the endpoint according to its priority.
// The wait of a high priority request cannot be cancelled; ctx only
// reaches the endpoint call.
func (s *Scheduler) Submit(ctx context.Context, req models.InferenceRequest) (*models.InferenceResponse, error) {
	if req.Priority == models.PriorityHigh {
		return s.submitHigh(ctx, req.Image)
	}
	return s.submitNormal(ctx, req.Image)
}

func (s *Scheduler) submitNormal(ctx context.Context, img image.Image) (*models.InferenceResponse, error) {
	s.mu.Lock()
	s.metrics.NormalSubmitted++
	if s.busy || s.priorityPending {
		s.metrics.NormalDropped++
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	return s.call(ctx, img, false)
}

func (s *Scheduler) submitHigh(ctx context.Context, img image.Image) (*models.InferenceResponse, error) {
	s.mu.Lock()
	s.metrics.HighSubmitted++
	if s.priorityPending {
		s.metrics.HighRejected++
		s.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	s.priorityPending = true

	if s.busy {
		s.metrics.HighWaited++
	}
	for s.busy {
		s.cond.Wait()
	}
	s.busy = true
	s.mu.Unlock()

	return s.call(ctx, img, true)
}

func (s *Scheduler) call(ctx context.Context, img image.Image, high bool) (resp *models.InferenceResponse, err error) {
	failed := true
	defer func() { s.release(high, failed) }()

	resp, err = s.endpoint.Infer(ctx, img)
	failed = err != nil
	return resp, err
}

func (s *Scheduler) release(high, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.busy = false
	if high {
		s.priorityPending = false
	}
	if failed {
		s.metrics.Failed++
	} else {
		s.metrics.Completed++
	}
	s.cond.Broadcast()
}

func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerState{Busy: s.busy, PriorityPending: s.priorityPending}
}

func (s *Scheduler) Metrics() SchedulerMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
