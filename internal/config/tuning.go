package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

// TuningConfig mirrors viseme.Tuning with string-keyed tables. Viper
// lowercases map keys, so shape names are resolved with viseme.ParseShape
// and entries missing here keep their default.
type TuningConfig struct {
	BackstepTolerance time.Duration `mapstructure:"backstep_tolerance" yaml:"backstep_tolerance"`
	NewUtteranceGap   time.Duration `mapstructure:"new_utterance_gap" yaml:"new_utterance_gap"`
	StitchPad         time.Duration `mapstructure:"stitch_pad" yaml:"stitch_pad"`

	MinSlot          time.Duration `mapstructure:"min_slot" yaml:"min_slot"`
	MaxEventsPerWord int           `mapstructure:"max_events_per_word" yaml:"max_events_per_word"`
	MinEventDuration time.Duration `mapstructure:"min_event_duration" yaml:"min_event_duration"`
	MaxEventDuration time.Duration `mapstructure:"max_event_duration" yaml:"max_event_duration"`
	PairOverlap      float64       `mapstructure:"pair_overlap" yaml:"pair_overlap"`
	Attack           time.Duration `mapstructure:"attack" yaml:"attack"`
	Decay            time.Duration `mapstructure:"decay" yaml:"decay"`

	DedupBucket time.Duration `mapstructure:"dedup_bucket" yaml:"dedup_bucket"`
	MergeGap    time.Duration `mapstructure:"merge_gap" yaml:"merge_gap"`
	MinGap      time.Duration `mapstructure:"min_gap" yaml:"min_gap"`

	EnvelopeRampCap float64       `mapstructure:"envelope_ramp_cap" yaml:"envelope_ramp_cap"`
	MaxFrameDelta   time.Duration `mapstructure:"max_frame_delta" yaml:"max_frame_delta"`
	GainCeiling     float64       `mapstructure:"gain_ceiling" yaml:"gain_ceiling"`
	RelaxRate       float64       `mapstructure:"relax_rate" yaml:"relax_rate"`

	Gains      map[string]float64 `mapstructure:"gains" yaml:"gains"`
	Visibility map[string]float64 `mapstructure:"visibility" yaml:"visibility"`
	Priority   map[string]float64 `mapstructure:"priority" yaml:"priority"`
}

// DefaultTuning returns the engine defaults in config form
func DefaultTuning() TuningConfig {
	return FromTuning(viseme.DefaultTuning())
}

// FromTuning converts engine tuning to its config form
func FromTuning(t viseme.Tuning) TuningConfig {
	c := TuningConfig{
		BackstepTolerance: t.BackstepTolerance,
		NewUtteranceGap:   t.NewUtteranceGap,
		StitchPad:         t.StitchPad,
		MinSlot:           t.MinSlot,
		MaxEventsPerWord:  t.MaxEventsPerWord,
		MinEventDuration:  t.MinEventDuration,
		MaxEventDuration:  t.MaxEventDuration,
		PairOverlap:       t.PairOverlap,
		Attack:            t.Attack,
		Decay:             t.Decay,
		DedupBucket:       t.DedupBucket,
		MergeGap:          t.MergeGap,
		MinGap:            t.MinGap,
		EnvelopeRampCap:   t.EnvelopeRampCap,
		MaxFrameDelta:     t.MaxFrameDelta,
		GainCeiling:       t.GainCeiling,
		RelaxRate:         t.RelaxRate,
		Gains:             make(map[string]float64, len(t.Gains)),
		Visibility:        make(map[string]float64, len(t.Visibility)),
		Priority:          make(map[string]float64, len(t.KindPriority)),
	}
	for s, v := range t.Gains {
		c.Gains[s.String()] = v
	}
	for s, v := range t.Visibility {
		c.Visibility[s.String()] = v
	}
	for k, v := range t.KindPriority {
		c.Priority[string(k)] = v
	}
	return c
}

var tokenKinds = []viseme.TokenKind{
	viseme.KindConsonant,
	viseme.KindVowel,
	viseme.KindDiphthong,
	viseme.KindAffricate,
	viseme.KindRhoticVowel,
	viseme.KindWeak,
	viseme.KindUnknown,
}

// Tuning converts to engine tuning, starting from the defaults
func (c TuningConfig) Tuning() (viseme.Tuning, error) {
	t := viseme.DefaultTuning()

	t.BackstepTolerance = c.BackstepTolerance
	t.NewUtteranceGap = c.NewUtteranceGap
	t.StitchPad = c.StitchPad
	t.MinSlot = c.MinSlot
	t.MaxEventsPerWord = c.MaxEventsPerWord
	t.MinEventDuration = c.MinEventDuration
	t.MaxEventDuration = c.MaxEventDuration
	t.PairOverlap = c.PairOverlap
	t.Attack = c.Attack
	t.Decay = c.Decay
	t.DedupBucket = c.DedupBucket
	t.MergeGap = c.MergeGap
	t.MinGap = c.MinGap
	t.EnvelopeRampCap = c.EnvelopeRampCap
	t.MaxFrameDelta = c.MaxFrameDelta
	t.GainCeiling = c.GainCeiling
	t.RelaxRate = c.RelaxRate

	for name, v := range c.Gains {
		s, ok := viseme.ParseShape(name)
		if !ok {
			return t, fmt.Errorf("tuning.gains: unknown shape %q", name)
		}
		t.Gains[s] = v
	}
	for name, v := range c.Visibility {
		s, ok := viseme.ParseShape(name)
		if !ok {
			return t, fmt.Errorf("tuning.visibility: unknown shape %q", name)
		}
		t.Visibility[s] = v
	}
	for name, v := range c.Priority {
		kind, ok := parseKind(name)
		if !ok {
			return t, fmt.Errorf("tuning.priority: unknown token kind %q", name)
		}
		t.KindPriority[kind] = v
	}

	switch {
	case t.MinSlot <= 0:
		return t, errors.New("tuning.min_slot must be positive")
	case t.DedupBucket <= 0:
		return t, errors.New("tuning.dedup_bucket must be positive")
	case t.MaxEventsPerWord < 2:
		return t, errors.New("tuning.max_events_per_word must be at least 2")
	case t.MinEventDuration > t.MaxEventDuration:
		return t, errors.New("tuning.min_event_duration exceeds max_event_duration")
	case t.GainCeiling <= 0 || t.GainCeiling > 1:
		return t, errors.New("tuning.gain_ceiling must be in (0, 1]")
	case t.EnvelopeRampCap < 0 || t.EnvelopeRampCap > 1:
		return t, errors.New("tuning.envelope_ramp_cap must be in [0, 1]")
	}

	return t, nil
}

func parseKind(name string) (viseme.TokenKind, bool) {
	for _, k := range tokenKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}
