// Package lipsync turns streamed word timings into per-frame viseme
// intensities aligned to an audio clock.
//
// A Session owns all per-utterance state: the absolute-time normalizer, the
// curated pending queue, the active envelopes and the pre-roll buffer used
// before playback starts. Words flow Normalizer -> Resolver -> Allocator ->
// Curator -> pending queue, and Tick promotes due events into envelopes and
// writes one Frame per render frame to the Sink.
//
// All times are seconds. Input word timings are relative to the current
// utterance; after normalization they are on the session's absolute
// timeline, whose zero is the anchor time set by PlaybackStart.
package lipsync

import (
	"math"
	"sync"
	"time"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

// WordTiming is one word of a streamed transcript.
type WordTiming struct {
	Text     string  `json:"text"`
	Phonetic string  `json:"phonetic"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

// Valid reports whether the interval is finite and not inverted.
func (w WordTiming) Valid() bool {
	return isFinite(w.Start) && isFinite(w.End) && w.End >= w.Start
}

// Span returns the word duration.
func (w WordTiming) Span() float64 {
	return w.End - w.Start
}

// Event is a dated viseme activation on the absolute timeline.
type Event struct {
	Onset    float64
	Shape    viseme.Shape
	Duration float64
	Peak     float64
	Attack   float64
	Decay    float64
}

// End returns the time the event stops contributing.
func (e Event) End() float64 {
	return e.Onset + e.Duration
}

// SegmentState tracks the running offset of the current utterance.
type SegmentState struct {
	Offset  float64
	LastEnd float64
}

// Frame maps each shape written this frame to its intensity.
type Frame map[viseme.Shape]float64

// Sink receives one Frame per render frame.
type Sink interface {
	Apply(Frame)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Frame)

// Apply calls f(frame).
func (f SinkFunc) Apply(frame Frame) {
	f(frame)
}

// AudioClock is the playback subsystem's clock, in seconds.
type AudioClock interface {
	Now() float64
}

// SystemClock is a monotonic AudioClock backed by time.Since.
type SystemClock struct {
	origin time.Time
}

// NewSystemClock returns a clock reading zero now.
func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

// Now returns seconds since the clock was created.
func (c *SystemClock) Now() float64 {
	return time.Since(c.origin).Seconds()
}

// ManualClock is an AudioClock advanced explicitly. Used for replays and
// tests.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

// Now returns the current reading.
func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *ManualClock) Set(t float64) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by dt.
func (c *ManualClock) Advance(dt float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += dt
	return c.now
}

const epsilon = 1e-9

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
