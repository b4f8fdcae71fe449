package lipsync

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

// relaxFloor is the level below which a relaxing shape snaps to zero.
const relaxFloor = 1e-3

// Scheduler renders the pending queue against the audio clock, one frame at
// a time.
type Scheduler struct {
	tuning viseme.Tuning
	sink   Sink

	anchor    float64
	hasAnchor bool

	pending []Event
	active  []Envelope
	levels  map[viseme.Shape]float64
}

// NewScheduler creates a Scheduler writing to sink. A nil sink discards
// frames.
func NewScheduler(t viseme.Tuning, sink Sink) *Scheduler {
	return &Scheduler{
		tuning: t,
		sink:   sink,
		levels: make(map[viseme.Shape]float64),
	}
}

// SetTuning replaces gains and ramp constants for subsequent frames.
func (s *Scheduler) SetTuning(t viseme.Tuning) {
	s.tuning = t
}

// SetAnchor sets the audio-clock time of timeline zero.
func (s *Scheduler) SetAnchor(anchor float64) {
	s.anchor = anchor
	s.hasAnchor = true
}

// HasAnchor reports whether playback has started.
func (s *Scheduler) HasAnchor() bool {
	return s.hasAnchor
}

// Anchor returns the current anchor time.
func (s *Scheduler) Anchor() float64 {
	return s.anchor
}

// Tick advances one frame. It returns the frame written to the sink, or nil
// when no anchor is set.
func (s *Scheduler) Tick(dt, clockTime float64) Frame {
	if !s.hasAnchor {
		return nil
	}

	now := clockTime - s.anchor
	dt = mgl64.Clamp(dt, 0, s.tuning.MaxFrameDelta.Seconds())

	s.promote(now)

	driven := make(map[viseme.Shape]float64, len(s.active))
	for _, env := range s.active {
		if v := env.Intensity(); v > driven[env.Shape] {
			driven[env.Shape] = v
		}
	}

	// Driven shapes follow their envelopes exactly; only shapes left without
	// an envelope fall back to relaxation.
	ceiling := s.tuning.GainCeiling
	for shape, v := range driven {
		target := v * s.tuning.Gain(shape)
		if target > 0 || s.levels[shape] > 0 {
			s.levels[shape] = target
		}
	}

	frame := make(Frame, len(s.levels))
	for shape, level := range s.levels {
		frame[shape] = mgl64.Clamp(level, 0, ceiling)
		if level == 0 {
			delete(s.levels, shape)
		}
	}
	if s.sink != nil && len(frame) > 0 {
		s.sink.Apply(frame)
	}

	kept := s.active[:0]
	for _, env := range s.active {
		env.Remaining -= dt
		if env.Remaining > 0 {
			kept = append(kept, env)
		}
	}
	s.active = kept

	s.relax(dt, driven)

	return frame
}

// promote moves every due event from the pending queue into the active set.
func (s *Scheduler) promote(now float64) {
	rampCap := s.tuning.EnvelopeRampCap

	n := 0
	for n < len(s.pending) && s.pending[n].Onset <= now {
		env := newEnvelope(s.pending[n], now, rampCap)
		if env.Remaining > 0 {
			s.active = append(s.active, env)
		}
		n++
	}
	if n > 0 {
		s.pending = append(s.pending[:0], s.pending[n:]...)
	}
}

// relax decays the levels of shapes that were not driven this frame toward
// neutral. Levels that fall under the floor become zero and are written once
// more on the next frame before removal.
func (s *Scheduler) relax(dt float64, driven map[viseme.Shape]float64) {
	f := math.Exp(-s.tuning.RelaxRate * dt)
	for shape, level := range s.levels {
		if _, ok := driven[shape]; ok {
			continue
		}
		level *= f
		if level < relaxFloor {
			level = 0
		}
		s.levels[shape] = level
	}
}

// Reset clears the queue, envelopes and anchor. Shapes that were still
// visible get a final zero so the mouth closes immediately.
func (s *Scheduler) Reset() Frame {
	var frame Frame
	for shape, level := range s.levels {
		if level > 0 {
			if frame == nil {
				frame = make(Frame)
			}
			frame[shape] = 0
		}
	}
	if s.sink != nil && len(frame) > 0 {
		s.sink.Apply(frame)
	}

	s.pending = nil
	s.active = nil
	s.levels = make(map[viseme.Shape]float64)
	s.anchor = 0
	s.hasAnchor = false

	return frame
}

// Pending returns a copy of the pending queue.
func (s *Scheduler) Pending() []Event {
	out := make([]Event, len(s.pending))
	copy(out, s.pending)
	return out
}

// Active returns a copy of the active envelopes.
func (s *Scheduler) Active() []Envelope {
	out := make([]Envelope, len(s.active))
	copy(out, s.active)
	return out
}
