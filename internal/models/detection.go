package models

import "image"

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// BBox is a bounding box. In Detection.BBox the coordinates are normalized to 0..1.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	BBoxPixels *BBox   `json:"bbox_pixels,omitempty"`
}

type InferenceResponse struct {
	Success         bool        `json:"success"`
	Detections      []Detection `json:"detections"`
	Count           int         `json:"count"`
	InferenceTimeMs *float64    `json:"inference_time_ms,omitempty"`
}

// Latency returns the server reported inference time, zero when absent.
func (r *InferenceResponse) Latency() float64 {
	if r == nil || r.InferenceTimeMs == nil {
		return 0
	}
	return *r.InferenceTimeMs
}

// InferenceRequest is consumed exactly once by the scheduler.
type InferenceRequest struct {
	Image    image.Image
	Priority Priority
}
