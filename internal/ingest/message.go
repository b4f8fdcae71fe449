// Package ingest reads word-timing and playback messages from a speech
// service and feeds them to a lip-sync target.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/normanking/cortexlipsync/internal/lipsync"
)

// Message types on the wire.
const (
	TypeWordTiming   = "word_timing"
	TypeWordTimings  = "word_timings"
	TypeTTSChunk     = "tts_chunk"
	TypeStopTTS      = "stop_tts"
	TypeInterruption = "tts_interruption"
)

var ErrNotWordTiming = errors.New("message carries no word timings")

// Message is one envelope from the speech service. At is only present in
// recordings and gives the message time in seconds since the recording
// started.
type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	At      *float64        `json:"at,omitempty"`
}

// WordTimingContent is the payload of a word_timing message.
type WordTimingContent struct {
	Grapheme string  `json:"grapheme"`
	Phoneme  string  `json:"phoneme"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
}

// WordTimingsContent is the batched payload of a word_timings message, with
// parallel arrays as emitted by streaming TTS engines.
type WordTimingsContent struct {
	Words    []string  `json:"words"`
	Phonemes []string  `json:"phonemes,omitempty"`
	Start    []float64 `json:"start"`
	End      []float64 `json:"end"`
}

// Decode parses one raw message.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("decode message: missing type")
	}
	return msg, nil
}

// IsWordTiming reports whether the message carries word timings.
func (m Message) IsWordTiming() bool {
	return m.Type == TypeWordTiming || m.Type == TypeWordTimings
}

// Words extracts the word timings carried by the message. Parallel arrays
// of unequal length are truncated to the shortest of words, start and end.
func (m Message) Words() ([]lipsync.WordTiming, error) {
	switch m.Type {
	case TypeWordTiming:
		var c WordTimingContent
		if err := json.Unmarshal(m.Content, &c); err != nil {
			return nil, fmt.Errorf("decode word_timing: %w", err)
		}
		return []lipsync.WordTiming{{Text: c.Grapheme, Phonetic: c.Phoneme, Start: c.Start, End: c.End}}, nil

	case TypeWordTimings:
		var c WordTimingsContent
		if err := json.Unmarshal(m.Content, &c); err != nil {
			return nil, fmt.Errorf("decode word_timings: %w", err)
		}
		n := min(len(c.Words), len(c.Start), len(c.End))
		words := make([]lipsync.WordTiming, 0, n)
		for i := 0; i < n; i++ {
			w := lipsync.WordTiming{Text: c.Words[i], Start: c.Start[i], End: c.End[i]}
			if i < len(c.Phonemes) {
				w.Phonetic = c.Phonemes[i]
			}
			words = append(words, w)
		}
		return words, nil

	default:
		return nil, ErrNotWordTiming
	}
}

// NewWordTiming builds a word_timing message.
func NewWordTiming(w lipsync.WordTiming) Message {
	content, _ := json.Marshal(WordTimingContent{Grapheme: w.Text, Phoneme: w.Phonetic, Start: w.Start, End: w.End})
	return Message{Type: TypeWordTiming, Content: content}
}
