package lipsync

import (
	"sync"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/viseme"
	"github.com/rs/zerolog"
)

// State is the per-utterance playback state.
type State int

const (
	// StateIdle has no anchor and nothing buffered.
	StateIdle State = iota
	// StateArmed holds words in pre-roll awaiting playback-start.
	StateArmed
	// StateActive has an anchor; the scheduler is running.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Options configures a Session.
type Options struct {
	ID     string
	Tuning viseme.Tuning
	Sink   Sink
	Logger zerolog.Logger
	Bus    *bus.EventBus
}

// Snapshot is a point-in-time view of a session for diagnostics.
type Snapshot struct {
	ID      string       `json:"id"`
	State   string       `json:"state"`
	Anchor  float64      `json:"anchor"`
	Segment SegmentState `json:"segment"`
	Pending int          `json:"pending"`
	Active  int          `json:"active"`
	PreRoll int          `json:"preroll"`
}

// Session is the lip-sync context for one avatar. All state is guarded by a
// single mutex and every public method takes it once, so Deliver, Tick and
// the playback signals may be called from different goroutines.
type Session struct {
	mu sync.Mutex

	id     string
	tuning viseme.Tuning
	log    zerolog.Logger
	bus    *bus.EventBus

	normalizer *Normalizer
	resolver   *viseme.Resolver
	allocator  *Allocator
	curator    *Curator
	scheduler  *Scheduler

	clock   AudioClock
	preroll []WordTiming
}

// NewSession creates an idle session.
func NewSession(opts Options) *Session {
	t := opts.Tuning
	if t.Gains == nil {
		t = viseme.DefaultTuning()
	}

	return &Session{
		id:         opts.ID,
		tuning:     t,
		log:        opts.Logger.With().Str("component", "lipsync-session").Str("session", opts.ID).Logger(),
		bus:        opts.Bus,
		normalizer: NewNormalizer(t),
		resolver:   viseme.NewResolver(),
		allocator:  NewAllocator(t),
		curator:    NewCurator(t),
		scheduler:  NewScheduler(t, opts.Sink),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Deliver accepts one batch of utterance-relative word timings. Before
// playback-start the normalized words wait in pre-roll.
func (s *Session) Deliver(words []WordTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()

	abs := s.normalizer.Normalize(words)
	if dropped := len(words) - len(abs); dropped > 0 {
		s.log.Debug().Int("dropped", dropped).Msg("Discarded malformed word timings")
		s.publish(bus.EventTypeWordsDiscarded, map[string]any{"count": dropped})
	}
	if len(abs) == 0 {
		return
	}

	if !s.scheduler.HasAnchor() {
		wasIdle := len(s.preroll) == 0
		s.preroll = append(s.preroll, abs...)
		if wasIdle {
			s.log.Debug().Int("words", len(abs)).Msg("Armed, waiting for playback")
			s.publish(bus.EventTypeSegmentArmed, map[string]any{"words": len(abs)})
		}
		return
	}

	s.schedule(abs)
}

// schedule runs absolute words through resolution, allocation and curation.
// Caller holds mu.
func (s *Session) schedule(words []WordTiming) {
	var events []Event
	for _, w := range words {
		tokens := s.resolver.Transcribe(w.Phonetic)
		events = append(events, s.allocator.Allocate(w, tokens)...)
	}
	if len(events) == 0 {
		return
	}

	queue, stats := s.curator.Curate(s.scheduler.pending, events)
	s.scheduler.pending = queue

	s.log.Debug().
		Int("words", len(words)).
		Int("events", len(events)).
		Int("accepted", stats.Accepted).
		Int("duplicates", stats.Duplicates).
		Int("merged", stats.Merged).
		Int("rate_limited", stats.RateLimited).
		Int("truncated", stats.Truncated).
		Int("pending", len(queue)).
		Msg("Curated batch")
	s.publish(bus.EventTypeBatchCurated, map[string]any{
		"accepted":     stats.Accepted,
		"duplicates":   stats.Duplicates,
		"merged":       stats.Merged,
		"rate_limited": stats.RateLimited,
		"truncated":    stats.Truncated,
	})
}

// PlaybackStart anchors the timeline at clock.Now()+latency and schedules
// everything buffered in pre-roll. A start while already active is treated
// as a new segment.
func (s *Session) PlaybackStart(clock AudioClock, latency float64) {
	if clock == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler.HasAnchor() {
		s.reset()
	}

	s.clock = clock
	anchor := clock.Now() + latency
	s.scheduler.SetAnchor(anchor)

	buffered := s.preroll
	s.preroll = nil
	s.schedule(buffered)

	s.log.Info().Float64("anchor", anchor).Int("preroll", len(buffered)).Msg("Playback started")
	s.publish(bus.EventTypePlaybackStarted, map[string]any{"anchor": anchor, "preroll": len(buffered)})
}

// PlaybackStop clears all per-segment state and closes the mouth.
func (s *Session) PlaybackStop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	s.log.Info().Msg("Playback stopped")
	s.publish(bus.EventTypePlaybackStopped, nil)
}

// reset clears everything in one step. Caller holds mu.
func (s *Session) reset() {
	s.scheduler.Reset()
	s.normalizer.Reset()
	s.curator.Reset()
	s.preroll = nil
	s.clock = nil
}

// Tick renders one frame at clockTime. It is a no-op before playback-start.
func (s *Session) Tick(dt, clockTime float64) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scheduler.Tick(dt, clockTime)
}

// Clock returns the audio clock given to PlaybackStart, or nil.
func (s *Session) Clock() AudioClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// State returns the current playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Session) state() State {
	switch {
	case s.scheduler.HasAnchor():
		return StateActive
	case len(s.preroll) > 0:
		return StateArmed
	default:
		return StateIdle
	}
}

// Pending returns a copy of the curated pending queue.
func (s *Session) Pending() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler.Pending()
}

// PreRoll returns a copy of the words waiting for playback-start.
func (s *Session) PreRoll() []WordTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WordTiming, len(s.preroll))
	copy(out, s.preroll)
	return out
}

// Snapshot returns diagnostic counters.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:      s.id,
		State:   s.state().String(),
		Anchor:  s.scheduler.Anchor(),
		Segment: s.normalizer.State(),
		Pending: len(s.scheduler.pending),
		Active:  len(s.scheduler.active),
		PreRoll: len(s.preroll),
	}
}

// SetTuning swaps the tuning tables for every stage. Segment state is kept.
func (s *Session) SetTuning(t viseme.Tuning) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tuning = t
	s.normalizer.SetTuning(t)
	s.allocator.SetTuning(t)
	s.curator.SetTuning(t)
	s.scheduler.SetTuning(t)
	s.log.Info().Msg("Tuning updated")
}

// Tuning returns the tuning in use.
func (s *Session) Tuning() viseme.Tuning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning
}

func (s *Session) publish(t bus.EventType, data map[string]any) {
	s.bus.Publish(bus.Event{Type: t, SessionID: s.id, Data: data})
}
