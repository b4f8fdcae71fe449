package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/rs/zerolog"
)

// ReadRecording parses a JSONL recording, one Message per line. Blank
// lines are skipped. Messages without "at" inherit the previous time.
func ReadRecording(r io.Reader) ([]Message, error) {
	var msgs []Message
	var at float64

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		msg, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if msg.At != nil {
			at = *msg.At
		}
		t := at
		msg.At = &t
		msgs = append(msgs, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	return msgs, nil
}

// LoadRecording reads a JSONL recording from disk.
func LoadRecording(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()
	return ReadRecording(f)
}

// ReplayOptions configures Replay.
type ReplayOptions struct {
	FrameRate     float64
	OutputLatency float64
	Tail          float64 // seconds rendered after the last message
}

// Replay feeds a recording into a session against a virtual clock, one
// frame at a time, and returns the number of frames rendered. Messages due
// within the same frame are dispatched as one burst.
func Replay(target *lipsync.Session, msgs []Message, opts ReplayOptions, logger zerolog.Logger) int {
	if opts.FrameRate <= 0 {
		opts.FrameRate = 60
	}
	dt := 1 / opts.FrameRate

	clock := &lipsync.ManualClock{}
	d := NewDispatcher(target, clock, opts.OutputLatency, logger)

	var end float64
	if n := len(msgs); n > 0 && msgs[n-1].At != nil {
		end = *msgs[n-1].At
	}
	end += opts.Tail

	next := 0
	frames := 0
	for f := 0; ; f++ {
		t := float64(f) * dt
		if t > end+1e-9 {
			break
		}
		clock.Set(t)

		for next < len(msgs) && msgTime(msgs[next]) <= t+1e-9 {
			d.Handle(msgs[next])
			next++
		}
		d.Flush()

		target.Tick(dt, t)
		frames++
	}

	return frames
}

func msgTime(m Message) float64 {
	if m.At == nil {
		return 0
	}
	return *m.At
}
