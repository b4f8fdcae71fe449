package viseme

import "time"

// Tuning holds every numeric constant of the synchronization pipeline.
// The gain, visibility and priority tables are empirical values; they are
// kept as data so they can be overridden from configuration (see
// config.TuningConfig).
type Tuning struct {
	// Normalizer
	BackstepTolerance time.Duration
	NewUtteranceGap   time.Duration
	StitchPad         time.Duration

	// Allocator
	MinSlot          time.Duration
	MaxEventsPerWord int
	MinEventDuration time.Duration
	MaxEventDuration time.Duration
	PairOverlap      float64 // second half starts at this fraction of the half slot
	Attack           time.Duration
	Decay            time.Duration

	// Curator
	DedupBucket time.Duration
	MergeGap    time.Duration
	MinGap      time.Duration

	// Scheduler
	EnvelopeRampCap float64 // fraction of duration
	MaxFrameDelta   time.Duration
	GainCeiling     float64
	RelaxRate       float64 // per second

	Gains        map[Shape]float64
	Visibility   map[Shape]float64
	KindPriority map[TokenKind]float64
}

// DefaultTuning returns the tuned defaults.
func DefaultTuning() Tuning {
	return Tuning{
		BackstepTolerance: 5 * time.Millisecond,
		NewUtteranceGap:   800 * time.Millisecond,
		StitchPad:         30 * time.Millisecond,

		MinSlot:          100 * time.Millisecond,
		MaxEventsPerWord: 4,
		MinEventDuration: 80 * time.Millisecond,
		MaxEventDuration: 180 * time.Millisecond,
		PairOverlap:      0.9,
		Attack:           50 * time.Millisecond,
		Decay:            70 * time.Millisecond,

		DedupBucket: 10 * time.Millisecond,
		MergeGap:    50 * time.Millisecond,
		MinGap:      100 * time.Millisecond,

		EnvelopeRampCap: 0.4,
		MaxFrameDelta:   100 * time.Millisecond,
		GainCeiling:     0.9,
		RelaxRate:       12,

		Gains: map[Shape]float64{
			ShapeSil: 0.3,
			ShapePP:  0.9,
			ShapeFF:  0.75,
			ShapeTH:  0.6,
			ShapeDD:  0.6,
			ShapeKK:  0.55,
			ShapeCH:  0.8,
			ShapeSS:  0.6,
			ShapeNN:  0.55,
			ShapeRR:  0.65,
			ShapeAA:  0.9,
			ShapeE:   0.75,
			ShapeI:   0.7,
			ShapeO:   0.85,
			ShapeU:   0.8,
		},
		Visibility: map[Shape]float64{
			ShapeAA:  1.0,
			ShapeO:   0.95,
			ShapeU:   0.9,
			ShapePP:  0.9,
			ShapeE:   0.85,
			ShapeCH:  0.85,
			ShapeI:   0.8,
			ShapeFF:  0.8,
			ShapeTH:  0.6,
			ShapeSS:  0.55,
			ShapeRR:  0.5,
			ShapeDD:  0.4,
			ShapeKK:  0.35,
			ShapeNN:  0.3,
			ShapeSil: 0.1,
		},
		KindPriority: map[TokenKind]float64{
			KindVowel:       10,
			KindDiphthong:   10,
			KindAffricate:   9,
			KindRhoticVowel: 9,
			KindConsonant:   3,
			KindWeak:        1,
			KindUnknown:     0,
		},
	}
}

// Gain returns the static gain for a shape, clamped to the ceiling.
func (t Tuning) Gain(s Shape) float64 {
	g, ok := t.Gains[s]
	if !ok {
		g = 1
	}
	if g < 0 {
		return 0
	}
	if g > t.GainCeiling {
		return t.GainCeiling
	}
	return g
}

// VisibilityOf returns how perceptible a shape is when competing for a slot.
func (t Tuning) VisibilityOf(s Shape) float64 {
	return t.Visibility[s]
}

// Priority scores a token for compression. Strong closures get a bonus over
// other consonants so they survive longer than alveolars and velars.
func (t Tuning) Priority(tok Token) float64 {
	p := t.KindPriority[tok.Kind]
	if tok.Kind == KindConsonant {
		for _, s := range tok.Shapes {
			if s == ShapePP || s == ShapeFF {
				p += 2
				break
			}
		}
	}
	return p
}
