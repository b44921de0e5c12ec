package processing

import "sync/atomic"

const DefaultCadence = 2

// Cadence selects every Nth frame of a stream as a scan candidate.
type Cadence struct {
	divisor atomic.Uint64
	count   atomic.Uint64
}

func NewCadence(divisor uint) *Cadence {
	c := &Cadence{}
	c.SetDivisor(divisor)
	return c
}

// SetDivisor changes N. Values below 1 select every frame.
func (c *Cadence) SetDivisor(divisor uint) {
	if divisor < 1 {
		divisor = 1
	}
	c.divisor.Store(uint64(divisor))
}

func (c *Cadence) Divisor() uint {
	return uint(c.divisor.Load())
}

// Tick counts one frame and reports whether it is due for submission.
// The counter wraps; only its residue matters.
func (c *Cadence) Tick() (seq uint64, due bool) {
	seq = c.count.Add(1)
	return seq, seq%c.divisor.Load() == 0
}

func (c *Cadence) Count() uint64 {
	return c.count.Load()
}
