package lipsync

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

// Allocator spreads a word's tokens across its span as dated events.
type Allocator struct {
	tuning viseme.Tuning
}

// NewAllocator creates an Allocator with the given tuning.
func NewAllocator(t viseme.Tuning) *Allocator {
	return &Allocator{tuning: t}
}

// SetTuning replaces the allocator's constants.
func (a *Allocator) SetTuning(t viseme.Tuning) {
	a.tuning = t
}

// Allocate returns the events for one absolute word. Words with no span or no
// tokens produce nothing. Onsets never leave [word.Start, word.End].
func (a *Allocator) Allocate(word WordTiming, tokens []viseme.Token) []Event {
	span := word.Span()
	if !word.Valid() || span <= 0 || len(tokens) == 0 {
		return nil
	}

	tokens = a.Compress(tokens, span)

	minSlot := a.tuning.MinSlot.Seconds()
	minDur := a.tuning.MinEventDuration.Seconds()
	maxDur := a.tuning.MaxEventDuration.Seconds()
	slot := math.Max(span/float64(len(tokens)), minSlot)

	events := make([]Event, 0, len(tokens)*2)
	for i, tok := range tokens {
		onset := word.Start + float64(i)*slot
		shapes := tok.Shapes
		if len(shapes) == 0 {
			shapes = []viseme.Shape{viseme.Neutral}
		}

		if len(shapes) == 1 {
			events = append(events, a.event(word, onset, shapes[0], mgl64.Clamp(slot, minDur, maxDur)))
			continue
		}

		part := slot / float64(len(shapes))
		dur := math.Min(part, maxDur)
		for j, s := range shapes {
			at := onset + float64(j)*a.tuning.PairOverlap*part
			events = append(events, a.event(word, at, s, dur))
		}
	}

	return events
}

func (a *Allocator) event(word WordTiming, onset float64, shape viseme.Shape, dur float64) Event {
	return Event{
		Onset:    mgl64.Clamp(onset, word.Start, word.End),
		Shape:    shape,
		Duration: dur,
		Peak:     1,
		Attack:   a.tuning.Attack.Seconds(),
		Decay:    a.tuning.Decay.Seconds(),
	}
}

// Compress thins a token list that would not fit the span at the minimum
// slot, or that exceeds the per-word cap. Weak tokens go first, then the
// lowest-priority tokens until the target count is reached. A list of two or
// more tokens is never reduced below two.
func (a *Allocator) Compress(tokens []viseme.Token, span float64) []viseme.Token {
	minSlot := a.tuning.MinSlot.Seconds()
	maxEvents := a.tuning.MaxEventsPerWord

	n := len(tokens)
	if n == 0 || (span/float64(n) >= minSlot-epsilon && n <= maxEvents) {
		return tokens
	}

	out := make([]viseme.Token, len(tokens))
	copy(out, tokens)

	for i := 0; i < len(out) && len(out) > 2; {
		if out[i].Kind == viseme.KindWeak {
			out = append(out[:i], out[i+1:]...)
			continue
		}
		i++
	}

	target := int(math.Ceil(span/minSlot - epsilon))
	if target > maxEvents {
		target = maxEvents
	}
	if target < 2 {
		target = 2
	}

	for len(out) > target {
		drop := 0
		lowest := math.Inf(1)
		for i, tok := range out {
			// <= so that among equal priorities the later token goes.
			if p := a.tuning.Priority(tok); p <= lowest {
				lowest = p
				drop = i
			}
		}
		out = append(out[:drop], out[drop+1:]...)
	}

	return out
}
