package processing

import "pokerassist/internal/models"

// Sinks receive completed inference results. Any hook may be nil.
type Sinks struct {
	// OnScan gets the detections of a completed scan request.
	OnScan func([]models.Detection)
	// OnCapture gets the detections of a completed capture request.
	OnCapture func([]models.Detection)
	// OnCaptureError is the single notification of a failed capture.
	OnCaptureError func(error)
}

// deliver routes resp by the priority its request was submitted with.
// Unsuccessful scan responses are dropped.
func (s Sinks) deliver(p models.Priority, resp *models.InferenceResponse) {
	if resp == nil {
		return
	}

	switch p {
	case models.PriorityHigh:
		if s.OnCapture != nil {
			s.OnCapture(resp.Detections)
		}
	default:
		if resp.Success && s.OnScan != nil {
			s.OnScan(resp.Detections)
		}
	}
}

func (s Sinks) captureFailed(err error) {
	if s.OnCaptureError != nil {
		s.OnCaptureError(err)
	}
}
