package lipsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

type controlKind int

const (
	controlStart controlKind = iota
	controlStop
)

type controlMsg struct {
	kind    controlKind
	clock   AudioClock
	latency float64
}

// wordBatch is a queued delivery tagged with the stop generation it was
// sent in.
type wordBatch struct {
	gen   uint64
	words []WordTiming
}

const wordQueueSize = 64

// Loop drives one Session from a single goroutine. Playback signals are
// drained before words and frames on every iteration. Every playback-stop
// starts a new generation, and batches queued in an older generation are
// discarded rather than leaking into the next utterance.
type Loop struct {
	session  *Session
	interval time.Duration
	log      zerolog.Logger

	gen     atomic.Uint64
	control chan controlMsg
	words   chan wordBatch
}

// NewLoop creates a loop ticking session at frameRate frames per second.
func NewLoop(session *Session, frameRate float64, logger zerolog.Logger) *Loop {
	if frameRate <= 0 {
		frameRate = 60
	}
	return &Loop{
		session:  session,
		interval: time.Duration(float64(time.Second) / frameRate),
		log:      logger.With().Str("component", "lipsync-loop").Str("session", session.ID()).Logger(),
		control:  make(chan controlMsg, 16),
		words:    make(chan wordBatch, wordQueueSize),
	}
}

// Session returns the driven session.
func (l *Loop) Session() *Session {
	return l.session
}

// Deliver queues a batch for the loop. A batch that does not fit in the
// queue is dropped.
func (l *Loop) Deliver(words []WordTiming) {
	select {
	case l.words <- wordBatch{gen: l.gen.Load(), words: words}:
	default:
		l.log.Warn().Int("words", len(words)).Msg("Word queue full, dropping batch")
	}
}

// PlaybackStart queues a playback-start signal.
func (l *Loop) PlaybackStart(clock AudioClock, latency float64) {
	l.signal(controlMsg{kind: controlStart, clock: clock, latency: latency})
}

// PlaybackStop queues a playback-stop signal. Batches delivered before the
// call are dropped.
func (l *Loop) PlaybackStop() {
	l.gen.Add(1)
	l.signal(controlMsg{kind: controlStop})
}

func (l *Loop) signal(msg controlMsg) {
	select {
	case l.control <- msg:
	default:
		l.apply(msg)
	}
}

func (l *Loop) apply(msg controlMsg) {
	switch msg.kind {
	case controlStart:
		l.session.PlaybackStart(msg.clock, msg.latency)
	case controlStop:
		l.session.PlaybackStop()
	}
}

// Run processes signals, words and frames until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Debug().Dur("interval", l.interval).Msg("Loop started")
	defer l.log.Debug().Msg("Loop stopped")

	last := time.Now()
	for {
		l.drainControl()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-l.control:
			l.apply(msg)
		case batch := <-l.words:
			// A stop sent before this batch is already in the control queue.
			l.drainControl()
			if batch.gen != l.gen.Load() {
				l.log.Debug().Int("words", len(batch.words)).Msg("Dropping batch from a stopped utterance")
				continue
			}
			l.session.Deliver(batch.words)
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if clock := l.session.Clock(); clock != nil {
				l.session.Tick(dt, clock.Now())
			}
		}
	}
}

func (l *Loop) drainControl() {
	for {
		select {
		case msg := <-l.control:
			l.apply(msg)
		default:
			return
		}
	}
}
