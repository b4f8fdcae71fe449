package ingest

import (
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/rs/zerolog"
)

// Target receives decoded input. Both lipsync.Session and lipsync.Loop
// satisfy it.
type Target interface {
	Deliver(words []lipsync.WordTiming)
	PlaybackStart(clock lipsync.AudioClock, latency float64)
	PlaybackStop()
}

// Dispatcher turns messages into Target calls. Word timings are buffered
// until Flush so that a burst becomes one batch; any control message
// flushes first to keep ordering.
type Dispatcher struct {
	target  Target
	clock   lipsync.AudioClock
	latency float64
	log     zerolog.Logger

	started bool
	batch   []lipsync.WordTiming
}

// NewDispatcher creates a dispatcher. clock and latency are handed to the
// target on the first audio chunk of each utterance.
func NewDispatcher(target Target, clock lipsync.AudioClock, latency float64, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		target:  target,
		clock:   clock,
		latency: latency,
		log:     logger.With().Str("component", "ingest-dispatch").Logger(),
	}
}

// Handle processes one message.
func (d *Dispatcher) Handle(msg Message) {
	switch msg.Type {
	case TypeWordTiming, TypeWordTimings:
		words, err := msg.Words()
		if err != nil {
			d.log.Debug().Err(err).Msg("Skipping malformed word timing")
			return
		}
		d.batch = append(d.batch, words...)

	case TypeTTSChunk:
		if d.started {
			return
		}
		d.Flush()
		d.started = true
		d.target.PlaybackStart(d.clock, d.latency)

	case TypeStopTTS, TypeInterruption:
		if len(d.batch) > 0 {
			d.log.Debug().Int("words", len(d.batch)).Msg("Dropping words of interrupted utterance")
			d.batch = nil
		}
		// stop_tts and tts_interruption usually arrive back to back; the
		// second stop is a no-op on an idle target.
		d.started = false
		d.target.PlaybackStop()

	default:
		d.log.Debug().Str("type", msg.Type).Msg("Ignoring message")
	}
}

// Flush delivers buffered word timings as one batch.
func (d *Dispatcher) Flush() {
	if len(d.batch) == 0 {
		return
	}
	batch := d.batch
	d.batch = nil
	d.target.Deliver(batch)
}

// Started reports whether playback-start has been signalled for the current
// utterance.
func (d *Dispatcher) Started() bool {
	return d.started
}
