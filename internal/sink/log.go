package sink

import (
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/rs/zerolog"
)

// LogSink writes each frame as a structured debug line. Used when no mesh is
// configured and by the replay command.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{log: logger.With().Str("component", "frame-sink").Logger()}
}

func (s *LogSink) Apply(frame lipsync.Frame) {
	if len(frame) == 0 {
		return
	}
	d := zerolog.Dict()
	for shape, v := range frame {
		d = d.Float64(shape.String(), v)
	}
	s.log.Debug().Dict("frame", d).Msg("Frame")
}

// Multi fans frames out to several sinks.
type Multi []lipsync.Sink

func (m Multi) Apply(frame lipsync.Frame) {
	for _, s := range m {
		s.Apply(frame)
	}
}
