package lipsync

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/normanking/cortexlipsync/internal/viseme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-6

func TestNormalizer_ContinuesForward(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())

	out := n.Normalize([]WordTiming{{Text: "a", Start: 0, End: 0.3}})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.0, out[0].Start, tol)

	out = n.Normalize([]WordTiming{{Text: "b", Start: 0.3, End: 0.6}})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.3, out[0].Start, tol)
	assert.InDelta(t, 0.0, n.State().Offset, tol)
	assert.InDelta(t, 0.6, n.State().LastEnd, tol)
}

func TestNormalizer_AbsoluteBatchesPassThrough(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())
	batches := [][]WordTiming{
		{{Text: "a", Start: 0, End: 0.3}, {Text: "b", Start: 0.3, End: 0.6}},
		{{Text: "c", Start: 0.6, End: 0.9}},
		{{Text: "d", Start: 1.2, End: 1.5}, {Text: "e", Start: 1.5, End: 1.8}},
	}

	for _, b := range batches {
		in := append([]WordTiming(nil), b...)
		out := n.Normalize(b)
		assert.Equal(t, in, out)
		assert.Zero(t, n.State().Offset)
	}
	assert.InDelta(t, 1.8, n.State().LastEnd, tol)
}

func TestNormalizer_WithinToleranceIsNotShifted(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())
	n.Normalize([]WordTiming{{Start: 0, End: 0.3}})

	out := n.Normalize([]WordTiming{{Start: 0.298, End: 0.5}})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.298, out[0].Start, tol)
}

func TestNormalizer_StitchesRestartedChunk(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())
	n.Normalize([]WordTiming{{Start: 0, End: 0.3}, {Start: 0.3, End: 0.6}})

	out := n.Normalize([]WordTiming{{Text: "c", Start: 0, End: 0.2}})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.63, out[0].Start, tol)
	assert.InDelta(t, 0.83, out[0].End, tol)
	assert.InDelta(t, 0.83, n.State().LastEnd, tol)
}

func TestNormalizer_NewUtteranceAfterLargeBackstep(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())
	n.Normalize([]WordTiming{{Start: 1.0, End: 2.0}})

	out := n.Normalize([]WordTiming{{Start: 0, End: 0.4}})
	require.Len(t, out, 1)
	assert.InDelta(t, 2.03, out[0].Start, tol)
	assert.InDelta(t, 2.03, n.State().Offset, tol)
}

func TestNormalizer_LastEndNeverDecreases(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())
	batches := [][]WordTiming{
		{{Start: 0, End: 0.5}},
		{{Start: 0.1, End: 0.2}},
		{{Start: 0, End: 0.1}},
		{{Start: 2, End: 2.5}},
		{{Start: 0, End: 0.05}},
	}

	last := 0.0
	for _, b := range batches {
		n.Normalize(b)
		assert.GreaterOrEqual(t, n.State().LastEnd, last)
		last = n.State().LastEnd
	}
}

func TestNormalizer_FiltersMalformed(t *testing.T) {
	n := NewNormalizer(viseme.DefaultTuning())

	out := n.Normalize([]WordTiming{
		{Start: math.NaN(), End: 1},
		{Start: 0.5, End: 0.2},
		{Start: 0, End: math.Inf(1)},
	})
	assert.Nil(t, out)
	assert.Equal(t, SegmentState{}, n.State())

	out = n.Normalize([]WordTiming{{Start: 0.5, End: 0.2}, {Text: "ok", Start: 0, End: 0.1}})
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Text)
}

func transcribe(ipa string) []viseme.Token {
	return viseme.NewResolver().Transcribe(ipa)
}

func TestAllocator_Cat(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())
	word := WordTiming{Text: "cat", Phonetic: "kæt", Start: 0, End: 0.3}

	events := a.Allocate(word, transcribe(word.Phonetic))
	require.Len(t, events, 3)

	want := []struct {
		shape viseme.Shape
		onset float64
	}{
		{viseme.ShapeKK, 0.0},
		{viseme.ShapeAA, 0.1},
		{viseme.ShapeDD, 0.2},
	}
	for i, w := range want {
		assert.Equal(t, w.shape, events[i].Shape)
		assert.InDelta(t, w.onset, events[i].Onset, tol)
		assert.InDelta(t, 0.1, events[i].Duration, tol)
	}
}

func TestAllocator_OnsetsStayInsideWord(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())
	word := WordTiming{Phonetic: "bɑ", Start: 1.0, End: 1.05}

	events := a.Allocate(word, transcribe(word.Phonetic))
	require.Len(t, events, 2)
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Onset, word.Start)
		assert.LessOrEqual(t, e.Onset, word.End)
	}
}

func TestAllocator_DiphthongSplitsSlot(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())
	word := WordTiming{Phonetic: "aɪ", Start: 0, End: 0.2}

	events := a.Allocate(word, transcribe(word.Phonetic))
	require.Len(t, events, 2)
	assert.Equal(t, viseme.ShapeAA, events[0].Shape)
	assert.Equal(t, viseme.ShapeI, events[1].Shape)
	assert.InDelta(t, 0.0, events[0].Onset, tol)
	assert.InDelta(t, 0.09, events[1].Onset, tol)
	assert.InDelta(t, 0.1, events[1].Duration, tol)
}

func TestAllocator_EmptyInputs(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())
	assert.Nil(t, a.Allocate(WordTiming{Start: 0, End: 0.3}, nil))
	assert.Nil(t, a.Allocate(WordTiming{Phonetic: "a", Start: 0.3, End: 0.3}, transcribe("a")))
}

func TestAllocator_CompressKeepsAtLeastTwo(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())

	out := a.Compress(transcribe("ha"), 0.05)
	assert.Len(t, out, 2)

	out = a.Compress(transcribe("stɹɛŋkθs"), 0.2)
	require.Len(t, out, 2)
	assert.Equal(t, "s", out[0].Text)
	assert.Equal(t, viseme.KindVowel, out[1].Kind)
}

func TestAllocator_CompressDropsWeakFirst(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())

	out := a.Compress(transcribe("hæt"), 0.15)
	require.Len(t, out, 2)
	assert.Equal(t, "æ", out[0].Text)
	assert.Equal(t, "t", out[1].Text)
}

func TestAllocator_CompressCapsPerWord(t *testing.T) {
	a := NewAllocator(viseme.DefaultTuning())

	tokens := transcribe("bɑnɑnɑs")
	require.Len(t, tokens, 7)
	out := a.Compress(tokens, 1.0)
	assert.Len(t, out, 4)
}

func ev(shape viseme.Shape, onset, dur float64) Event {
	return Event{Onset: onset, Shape: shape, Duration: dur, Peak: 1}
}

// assertShapeChangesSpaced checks that q is sorted and that no two shape
// changes closer than minGap follow each other.
func assertShapeChangesSpaced(t *testing.T, q []Event, minGap float64) {
	t.Helper()
	require.True(t, sort.SliceIsSorted(q, func(i, j int) bool { return q[i].Onset < q[j].Onset }))

	tight := func(i int) bool {
		return q[i].Shape != q[i-1].Shape && q[i].Onset-q[i-1].Onset < minGap-1e-9
	}
	for i := 2; i < len(q); i++ {
		if tight(i-1) && tight(i) {
			t.Errorf("shape changes at %.3f (%s) and %.3f (%s) both follow %.3f (%s) too closely",
				q[i-1].Onset, q[i-1].Shape, q[i].Onset, q[i].Shape, q[i-2].Onset, q[i-2].Shape)
		}
	}
}

func TestCurator_DedupsRepeatedBatch(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	batch := []Event{ev(viseme.ShapeKK, 0, 0.1), ev(viseme.ShapeAA, 0.1, 0.1), ev(viseme.ShapeDD, 0.2, 0.1)}

	q, stats := c.Curate(nil, batch)
	assert.Len(t, q, 3)
	assert.Equal(t, 3, stats.Accepted)

	q, stats = c.Curate(q, batch)
	assert.Len(t, q, 3)
	assert.Equal(t, 3, stats.Duplicates)
	assert.Equal(t, 0, stats.Accepted)
}

func TestCurator_MergesSameShape(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapeAA, 0, 0.1)})

	q, stats := c.Curate(q, []Event{ev(viseme.ShapeAA, 0.12, 0.1)})
	require.Len(t, q, 1)
	assert.Equal(t, 1, stats.Merged)
	assert.InDelta(t, 0.22, q[0].Duration, tol)
}

func TestCurator_RateLimitsLessVisible(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapeAA, 0, 0.1)})

	q, stats := c.Curate(q, []Event{ev(viseme.ShapeDD, 0.05, 0.1)})
	require.Len(t, q, 1)
	assert.Equal(t, viseme.ShapeAA, q[0].Shape)
	assert.Equal(t, 1, stats.RateLimited)
}

func TestCurator_TruncatesBeatenPredecessor(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapeDD, 0, 0.1)})

	q, stats := c.Curate(q, []Event{ev(viseme.ShapeAA, 0.05, 0.1)})
	require.Len(t, q, 2)
	assert.Equal(t, 1, stats.Truncated)
	assert.InDelta(t, 0.05, q[0].Duration, tol)
	assert.Equal(t, viseme.ShapeAA, q[1].Shape)
}

func TestCurator_ReplacesBeatenSuccessor(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapeDD, 0.1, 0.1)})

	q, stats := c.Curate(q, []Event{ev(viseme.ShapeAA, 0.05, 0.1)})
	require.Len(t, q, 1)
	assert.Equal(t, viseme.ShapeAA, q[0].Shape)
	assert.Equal(t, 1, stats.RateLimited)
	assert.Equal(t, 1, stats.Accepted)
}

func TestCurator_ReplacesSubstitutedPredecessor(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapeDD, 0, 0.1)})
	q, _ = c.Curate(q, []Event{ev(viseme.ShapeSS, 0.03, 0.1)})
	require.Len(t, q, 2)
	assert.InDelta(t, 0.03, q[0].Duration, tol)

	q, stats := c.Curate(q, []Event{ev(viseme.ShapeAA, 0.06, 0.1)})

	require.Len(t, q, 2)
	assert.Equal(t, viseme.ShapeDD, q[0].Shape)
	assert.InDelta(t, 0.03, q[0].Duration, tol)
	assert.Equal(t, viseme.ShapeAA, q[1].Shape)
	assert.InDelta(t, 0.06, q[1].Onset, tol)
	assert.Equal(t, 1, stats.RateLimited)
	assertShapeChangesSpaced(t, q, 0.1)
}

func TestCurator_SuccessorsInsideMinGapAllGiveWay(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapeDD, 0.1, 0.1)})
	q, _ = c.Curate(q, []Event{ev(viseme.ShapeSS, 0.14, 0.1)})
	require.Len(t, q, 2)

	q, stats := c.Curate(q, []Event{ev(viseme.ShapeAA, 0.05, 0.1)})

	require.Len(t, q, 1)
	assert.Equal(t, viseme.ShapeAA, q[0].Shape)
	assert.Equal(t, 2, stats.RateLimited)
}

func TestCurator_RandomBatchesKeepShapeChangesSpaced(t *testing.T) {
	tuning := viseme.DefaultTuning()
	minGap := tuning.MinGap.Seconds()
	shapes := viseme.AllShapes

	for seed := int64(1); seed <= 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		c := NewCurator(tuning)
		var q []Event

		for b := 0; b < 30; b++ {
			batch := make([]Event, 1+rng.Intn(6))
			for i := range batch {
				batch[i] = ev(shapes[rng.Intn(len(shapes))], rng.Float64()*3, 0.05+rng.Float64()*0.15)
			}
			q, _ = c.Curate(q, batch)
			assertShapeChangesSpaced(t, q, minGap)
		}
	}
}

func TestCurator_TieKeepsEarlier(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{ev(viseme.ShapePP, 0, 0.1)})

	q, _ = c.Curate(q, []Event{ev(viseme.ShapeU, 0.05, 0.1)})
	require.Len(t, q, 1)
	assert.Equal(t, viseme.ShapePP, q[0].Shape)
}

func TestCurator_QueueStaysSorted(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	q, _ := c.Curate(nil, []Event{
		ev(viseme.ShapeO, 0.9, 0.1),
		ev(viseme.ShapeAA, 0.1, 0.1),
		ev(viseme.ShapePP, 0.5, 0.1),
	})
	q, _ = c.Curate(q, []Event{ev(viseme.ShapeE, 0.3, 0.1), ev(viseme.ShapeSS, 0.7, 0.1)})

	require.Len(t, q, 5)
	assert.True(t, sort.SliceIsSorted(q, func(i, j int) bool { return q[i].Onset < q[j].Onset }))
}

func TestCurator_ResetForgetsSeen(t *testing.T) {
	c := NewCurator(viseme.DefaultTuning())
	batch := []Event{ev(viseme.ShapeAA, 0, 0.1)}
	c.Curate(nil, batch)
	c.Reset()

	q, stats := c.Curate(nil, batch)
	assert.Len(t, q, 1)
	assert.Equal(t, 0, stats.Duplicates)
}
