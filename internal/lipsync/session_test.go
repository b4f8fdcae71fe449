package lipsync

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/viseme"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (r *recordingSink) Apply(f Frame) {
	cp := make(Frame, len(f))
	for k, v := range f {
		cp[k] = v
	}
	r.mu.Lock()
	r.frames = append(r.frames, cp)
	r.mu.Unlock()
}

func (r *recordingSink) all() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

func newTestSession(sink Sink) *Session {
	return NewSession(Options{
		ID:     "test",
		Tuning: viseme.DefaultTuning(),
		Sink:   sink,
		Logger: zerolog.Nop(),
	})
}

var cat = WordTiming{Text: "cat", Phonetic: "kæt", Start: 0, End: 0.3}

func TestSession_PreRollWithoutAnchor(t *testing.T) {
	s := newTestSession(nil)
	assert.Equal(t, StateIdle, s.State())

	s.Deliver([]WordTiming{cat})

	assert.Equal(t, StateArmed, s.State())
	assert.Empty(t, s.Pending())
	assert.Len(t, s.PreRoll(), 1)
	assert.Nil(t, s.Tick(1.0/60, 0.1))
}

func TestSession_PlaybackStartDrainsPreRoll(t *testing.T) {
	s := newTestSession(nil)
	s.Deliver([]WordTiming{cat})

	s.PlaybackStart(&ManualClock{}, 0)

	assert.Equal(t, StateActive, s.State())
	assert.Empty(t, s.PreRoll())
	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, viseme.ShapeKK, pending[0].Shape)
	assert.Equal(t, viseme.ShapeAA, pending[1].Shape)
	assert.Equal(t, viseme.ShapeDD, pending[2].Shape)
}

func TestSession_DeliverWhileActive(t *testing.T) {
	s := newTestSession(nil)
	s.PlaybackStart(&ManualClock{}, 0)

	s.Deliver([]WordTiming{cat})

	pending := s.Pending()
	require.Len(t, pending, 3)
	assert.InDelta(t, 0.0, pending[0].Onset, tol)
	assert.InDelta(t, 0.1, pending[1].Onset, tol)
	assert.InDelta(t, 0.2, pending[2].Onset, tol)
}

func TestSession_AnchorIncludesLatency(t *testing.T) {
	s := newTestSession(nil)
	clock := &ManualClock{}
	clock.Set(5)

	s.PlaybackStart(clock, 0.25)

	assert.InDelta(t, 5.25, s.Snapshot().Anchor, tol)
	assert.Equal(t, clock, s.Clock())
}

func TestSession_EmptyBatchIsNoop(t *testing.T) {
	s := newTestSession(nil)
	s.Deliver(nil)
	s.Deliver([]WordTiming{{Start: 1, End: 0}})

	assert.Equal(t, StateIdle, s.State())
}

func TestSession_TickWritesGainedIntensity(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)
	s.PlaybackStart(&ManualClock{}, 0)
	s.Deliver([]WordTiming{cat})

	frame := s.Tick(1.0/60, 0.05)

	require.NotNil(t, frame)
	assert.InDelta(t, 0.55, frame[viseme.ShapeKK], tol)
	assert.Len(t, sink.all(), 1)
	assert.Len(t, s.Pending(), 2)
}

func TestSession_OutputStaysBounded(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)
	clock := &ManualClock{}
	s.PlaybackStart(clock, 0)
	s.Deliver([]WordTiming{
		cat,
		{Text: "ran", Phonetic: "ɹæn", Start: 0.3, End: 0.6},
		{Text: "home", Phonetic: "hoʊm", Start: 0.6, End: 1.0},
	})

	dt := 1.0 / 60
	for i := 0; i < 180; i++ {
		s.Tick(dt, clock.Advance(dt))
	}

	frames := sink.all()
	require.NotEmpty(t, frames)
	for _, f := range frames {
		for shape, v := range f {
			assert.GreaterOrEqual(t, v, 0.0, shape.String())
			assert.LessOrEqual(t, v, 0.9, shape.String())
		}
	}

	last := frames[len(frames)-1]
	for _, v := range last {
		assert.Zero(t, v)
	}
	assert.Empty(t, s.Pending())
}

func TestSession_PlaybackStopResets(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSession(sink)
	clock := &ManualClock{}
	s.PlaybackStart(clock, 0)
	s.Deliver([]WordTiming{cat})
	s.Tick(1.0/60, clock.Advance(0.05))

	s.PlaybackStop()

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Pending())
	assert.Nil(t, s.Clock())
	snap := s.Snapshot()
	assert.Equal(t, SegmentState{}, snap.Segment)
	assert.Zero(t, snap.Active)

	frames := sink.all()
	require.Len(t, frames, 2)
	assert.Equal(t, Frame{viseme.ShapeKK: 0}, frames[1])

	// The dedup set is cleared too, so the same word schedules again.
	s.PlaybackStart(clock, 0)
	s.Deliver([]WordTiming{cat})
	assert.Len(t, s.Pending(), 3)
}

func TestSession_RestartWhileActive(t *testing.T) {
	s := newTestSession(nil)
	clock := &ManualClock{}
	s.PlaybackStart(clock, 0)
	s.Deliver([]WordTiming{cat})

	clock.Set(10)
	s.PlaybackStart(clock, 0)

	assert.Empty(t, s.Pending())
	assert.InDelta(t, 10.0, s.Snapshot().Anchor, tol)
}

func TestSession_PublishesLifecycle(t *testing.T) {
	b := bus.NewEventBus()
	got := make(chan bus.Event, 8)
	b.SubscribeMultiple([]bus.EventType{
		bus.EventTypeSegmentArmed,
		bus.EventTypePlaybackStarted,
		bus.EventTypePlaybackStopped,
	}, func(e bus.Event) { got <- e })

	s := NewSession(Options{ID: "s1", Bus: b, Logger: zerolog.Nop()})
	s.Deliver([]WordTiming{cat})
	s.PlaybackStart(&ManualClock{}, 0)
	s.PlaybackStop()

	seen := map[bus.EventType]bool{}
	for i := 0; i < 3; i++ {
		select {
		case e := <-got:
			assert.Equal(t, "s1", e.SessionID)
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for bus events")
		}
	}
	assert.Len(t, seen, 3)
}

func TestSession_LogsCurationStats(t *testing.T) {
	var buf bytes.Buffer
	s := NewSession(Options{
		ID:     "logged",
		Tuning: viseme.DefaultTuning(),
		Logger: zerolog.New(&buf).Level(zerolog.DebugLevel),
	})
	s.PlaybackStart(&ManualClock{}, 0)
	s.Deliver([]WordTiming{cat})

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(raw, &entry))
		if entry["message"] == "Curated batch" {
			line = entry
		}
	}
	require.NotNil(t, line)
	assert.EqualValues(t, 3, line["accepted"])
	assert.Contains(t, line, "truncated")
	assert.Contains(t, line, "rate_limited")
}

func TestSession_SetTuning(t *testing.T) {
	s := newTestSession(nil)
	tuning := viseme.DefaultTuning()
	tuning.GainCeiling = 0.5

	s.SetTuning(tuning)

	assert.Equal(t, 0.5, s.Tuning().GainCeiling)
}

func TestScheduler_MaxAggregation(t *testing.T) {
	sc := NewScheduler(viseme.DefaultTuning(), nil)
	sc.SetAnchor(0)
	sc.pending = []Event{
		{Onset: 0, Shape: viseme.ShapeAA, Duration: 0.2, Peak: 0.5},
		{Onset: 0, Shape: viseme.ShapeAA, Duration: 0.2, Peak: 0.4},
	}

	frame := sc.Tick(1.0/60, 0.01)
	assert.InDelta(t, 0.45, frame[viseme.ShapeAA], tol)
	assert.Len(t, sc.Active(), 2)
}

func TestScheduler_FollowsEnvelopeThroughDecay(t *testing.T) {
	tuning := viseme.DefaultTuning()
	sc := NewScheduler(tuning, nil)
	sc.SetAnchor(0)
	// Ramps cap at 40ms of the 100ms duration.
	sc.pending = []Event{{Onset: 0, Shape: viseme.ShapeAA, Duration: 0.1, Peak: 1, Attack: 0.05, Decay: 0.07}}

	gain := tuning.Gain(viseme.ShapeAA)
	want := map[int]float64{2: 0.5, 5: 1, 7: 0.75, 8: 0.5, 9: 0.25}

	for i := 0; i < 10; i++ {
		frame := sc.Tick(0.01, float64(i)*0.01)
		if v, ok := want[i]; ok {
			assert.InDelta(t, math.Min(v*gain, tuning.GainCeiling), frame[viseme.ShapeAA], tol, "frame %d", i)
		}
	}
}

func TestScheduler_UndrivenShapeRelaxes(t *testing.T) {
	tuning := viseme.DefaultTuning()
	sc := NewScheduler(tuning, nil)
	sc.SetAnchor(0)
	sc.levels[viseme.ShapeO] = 0.5

	frame := sc.Tick(0.01, 0)
	assert.InDelta(t, 0.5, frame[viseme.ShapeO], tol)

	frame = sc.Tick(0.01, 0.01)
	assert.InDelta(t, 0.5*math.Exp(-tuning.RelaxRate*0.01), frame[viseme.ShapeO], tol)
}

func TestScheduler_LatePromotionStaysAligned(t *testing.T) {
	sc := NewScheduler(viseme.DefaultTuning(), nil)
	sc.SetAnchor(0)
	sc.pending = []Event{
		{Onset: 0, Shape: viseme.ShapeAA, Duration: 0.1, Peak: 1},
		{Onset: 0.05, Shape: viseme.ShapeO, Duration: 0.1, Peak: 1},
	}

	sc.Tick(0, 0.08)
	active := sc.Active()
	require.Len(t, active, 2)
	assert.InDelta(t, 0.02, active[0].Remaining, tol)
	assert.InDelta(t, 0.07, active[1].Remaining, tol)
}

func TestScheduler_ExpiredEventNeverActivates(t *testing.T) {
	sc := NewScheduler(viseme.DefaultTuning(), nil)
	sc.SetAnchor(0)
	sc.pending = []Event{{Onset: 0, Shape: viseme.ShapeAA, Duration: 0.1, Peak: 1}}

	sc.Tick(0, 0.5)
	assert.Empty(t, sc.Active())
	assert.Empty(t, sc.Pending())
}

func TestEnvelope_RampsAreCapped(t *testing.T) {
	e := newEnvelope(Event{Shape: viseme.ShapeAA, Duration: 0.1, Peak: 1, Attack: 0.05, Decay: 0.07}, 0, 0.4)
	assert.InDelta(t, 0.04, e.Attack, tol)
	assert.InDelta(t, 0.04, e.Decay, tol)

	e = newEnvelope(Event{Shape: viseme.ShapeAA, Duration: 0.1, Peak: 1, Attack: 0.08, Decay: 0.08}, 0, 0.8)
	assert.InDelta(t, 0.05, e.Attack, tol)
	assert.InDelta(t, 0.05, e.Decay, tol)
}

func TestEnvelope_Intensity(t *testing.T) {
	e := Envelope{Shape: viseme.ShapeAA, Total: 0.1, Peak: 1, Attack: 0.04, Decay: 0.04}

	e.Remaining = 0.1
	assert.InDelta(t, 0.0, e.Intensity(), tol)
	e.Remaining = 0.08
	assert.InDelta(t, 0.5, e.Intensity(), tol)
	e.Remaining = 0.05
	assert.InDelta(t, 1.0, e.Intensity(), tol)
	e.Remaining = 0.02
	assert.InDelta(t, 0.5, e.Intensity(), tol)
}

func TestLoop_RunsSignalsAndWords(t *testing.T) {
	s := newTestSession(nil)
	loop := NewLoop(s, 100, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	loop.PlaybackStart(NewSystemClock(), 0.5)
	loop.Deliver([]WordTiming{cat})

	require.Eventually(t, func() bool { return len(s.Pending()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateActive, s.State())

	loop.PlaybackStop()
	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestLoop_StopDropsQueuedWords(t *testing.T) {
	s := newTestSession(nil)
	loop := NewLoop(s, 100, zerolog.Nop())

	loop.Deliver([]WordTiming{cat})
	loop.PlaybackStop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	sat := WordTiming{Text: "sat", Phonetic: "sæt", Start: 0, End: 0.3}
	loop.Deliver([]WordTiming{sat})

	require.Eventually(t, func() bool { return len(s.PreRoll()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "sat", s.PreRoll()[0].Text)
	assert.Equal(t, StateArmed, s.State())

	// A large latency keeps the events pending instead of promoting them.
	loop.PlaybackStart(&ManualClock{}, 10)
	require.Eventually(t, func() bool { return len(s.Pending()) == 3 }, time.Second, 5*time.Millisecond)
	pending := s.Pending()
	assert.Equal(t, viseme.ShapeSS, pending[0].Shape)
	assert.InDelta(t, 0.0, pending[0].Onset, tol)
}

func TestLoop_StopBeforeRunLeavesSessionIdle(t *testing.T) {
	s := newTestSession(nil)
	loop := NewLoop(s, 100, zerolog.Nop())

	loop.Deliver([]WordTiming{cat})
	loop.PlaybackStop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool { return len(loop.words) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.PreRoll())
}

func TestLoop_FullQueueDropsBatch(t *testing.T) {
	s := newTestSession(nil)
	loop := NewLoop(s, 100, zerolog.Nop())

	for i := 0; i <= wordQueueSize; i++ {
		loop.Deliver([]WordTiming{cat})
	}

	assert.Len(t, loop.words, wordQueueSize)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.PreRoll())
}

func TestSession_TimelineKeepsShapeChangesSpaced(t *testing.T) {
	s := newTestSession(nil)
	s.PlaybackStart(&ManualClock{}, 0)

	batches := [][]WordTiming{
		{
			{Text: "quick", Phonetic: "kwɪk", Start: 0, End: 0.25},
			{Text: "brown", Phonetic: "bɹaʊn", Start: 0.25, End: 0.5},
			{Text: "fox", Phonetic: "fɑks", Start: 0.5, End: 0.7},
		},
		// Restarted clock, stitched onto the end.
		{
			{Text: "jumps", Phonetic: "dʒʌmps", Start: 0, End: 0.3},
			{Text: "over", Phonetic: "oʊvɚ", Start: 0.3, End: 0.5},
		},
		// Overlapping correction of the previous chunk.
		{
			{Text: "over", Phonetic: "oʊvɚ", Start: 0.25, End: 0.45},
			{Text: "the", Phonetic: "ðə", Start: 0.45, End: 0.55},
			{Text: "strengths", Phonetic: "stɹɛŋkθs", Start: 0.55, End: 0.75},
			{Text: "why", Phonetic: "waɪ", Start: 0.75, End: 0.9},
		},
	}
	for _, b := range batches {
		s.Deliver(b)
		assertShapeChangesSpaced(t, s.Pending(), s.Tuning().MinGap.Seconds())
	}
	assert.NotEmpty(t, s.Pending())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	s := r.Create(Options{Logger: zerolog.Nop()})
	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)

	named := r.Create(Options{ID: "head", Logger: zerolog.Nop()})
	assert.Equal(t, 2, r.Len())

	got, err := r.Get("head")
	require.NoError(t, err)
	assert.Same(t, named, got)

	count := 0
	r.Each(func(*Session) { count++ })
	assert.Equal(t, 2, count)

	require.NoError(t, r.Remove("head"))
	_, err = r.Get("head")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, r.Remove("head"), ErrUnknownSession)
}
