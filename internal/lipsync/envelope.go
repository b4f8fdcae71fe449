package lipsync

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

// Envelope is an activated event counting down to zero.
type Envelope struct {
	Shape     viseme.Shape
	Remaining float64
	Total     float64
	Peak      float64
	Attack    float64
	Decay     float64
}

// newEnvelope activates ev at time now. Ramps are capped to rampCap of the
// duration and shrunk together if they still overlap. An event promoted late
// starts part-way through so it stays aligned with the audio.
func newEnvelope(ev Event, now, rampCap float64) Envelope {
	total := math.Max(ev.Duration, 0)
	attack := math.Min(math.Max(ev.Attack, 0), rampCap*total)
	decay := math.Min(math.Max(ev.Decay, 0), rampCap*total)
	if sum := attack + decay; sum > total && sum > 0 {
		k := total / sum
		attack *= k
		decay *= k
	}

	return Envelope{
		Shape:     ev.Shape,
		Remaining: total - math.Max(0, now-ev.Onset),
		Total:     total,
		Peak:      mgl64.Clamp(ev.Peak, 0, 1),
		Attack:    attack,
		Decay:     decay,
	}
}

// Elapsed returns time since activation.
func (e Envelope) Elapsed() float64 {
	return e.Total - e.Remaining
}

// Intensity evaluates the attack, sustain, decay profile at the current
// elapsed time.
func (e Envelope) Intensity() float64 {
	elapsed := e.Elapsed()

	var v float64
	switch {
	case e.Attack > 0 && elapsed < e.Attack:
		v = e.Peak * elapsed / e.Attack
	case e.Decay > 0 && elapsed > e.Total-e.Decay:
		v = e.Peak * (e.Total - elapsed) / e.Decay
	default:
		v = e.Peak
	}

	return mgl64.Clamp(v, 0, e.Peak)
}
