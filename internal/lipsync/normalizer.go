package lipsync

import (
	"math"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

// Normalizer stitches batch-relative word timings onto one monotonic
// timeline. Streaming engines restart their local clock per chunk and
// sometimes resend overlapping corrections; both show up as a batch whose
// first word lands before the end of what was already scheduled.
type Normalizer struct {
	tolerance       float64
	newUtteranceGap float64
	pad             float64

	state SegmentState
}

// NewNormalizer creates a Normalizer with the given tuning.
func NewNormalizer(t viseme.Tuning) *Normalizer {
	n := &Normalizer{}
	n.SetTuning(t)
	return n
}

// SetTuning replaces the thresholds without touching segment state.
func (n *Normalizer) SetTuning(t viseme.Tuning) {
	n.tolerance = t.BackstepTolerance.Seconds()
	n.newUtteranceGap = t.NewUtteranceGap.Seconds()
	n.pad = t.StitchPad.Seconds()
}

// Normalize drops invalid words and returns the rest shifted onto the
// absolute timeline. It returns nil when nothing in the batch is usable.
func (n *Normalizer) Normalize(words []WordTiming) []WordTiming {
	valid := make([]WordTiming, 0, len(words))
	localMin, localMax := math.Inf(1), math.Inf(-1)
	for _, w := range words {
		if !w.Valid() {
			continue
		}
		valid = append(valid, w)
		localMin = math.Min(localMin, w.Start)
		localMax = math.Max(localMax, w.End)
	}
	if len(valid) == 0 {
		return nil
	}

	candidate := n.state.Offset + localMin
	if candidate < n.state.LastEnd-n.tolerance {
		backstep := n.state.LastEnd - candidate
		if backstep > n.newUtteranceGap {
			n.state.Offset = n.state.LastEnd + n.pad
		} else {
			n.state.Offset += backstep + n.pad
		}
	}

	shift := n.state.Offset
	for i := range valid {
		valid[i].Start += shift
		valid[i].End += shift
	}
	n.state.LastEnd = math.Max(n.state.LastEnd, shift+localMax)

	return valid
}

// State returns the current segment state.
func (n *Normalizer) State() SegmentState {
	return n.state
}

// Reset returns the segment state to zero.
func (n *Normalizer) Reset() {
	n.state = SegmentState{}
}
