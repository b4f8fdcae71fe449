package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexlipsync/internal/ingest"
	"github.com/normanking/cortexlipsync/internal/lipsync"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var tail time.Duration
	var frameRate float64
	var quiet bool

	cmd := &cobra.Command{
		Use:   "replay <recording.jsonl>",
		Short: "Replay recorded speech messages against a virtual clock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tuning, err := cfg.Tuning.Tuning()
			if err != nil {
				return err
			}
			if frameRate <= 0 {
				frameRate = cfg.Playback.FrameRate
			}

			msgs, err := ingest.LoadRecording(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var printed int
			frames := lipsync.SinkFunc(func(f lipsync.Frame) {
				printed++
				if !quiet {
					fmt.Fprintln(out, formatFrame(f))
				}
			})

			session := lipsync.NewSession(lipsync.Options{
				ID:     "replay",
				Tuning: tuning,
				Sink:   frames,
				Logger: ctx.component("replay"),
			})
			n := ingest.Replay(session, msgs, ingest.ReplayOptions{
				FrameRate:     frameRate,
				OutputLatency: cfg.Playback.OutputLatency.Seconds(),
				Tail:          tail.Seconds(),
			}, ctx.component("replay"))

			fmt.Fprintf(out, "messages=%d frames=%d written=%d\n", len(msgs), n, printed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&tail, "tail", 500*time.Millisecond, "Time rendered after the last message")
	cmd.Flags().Float64Var(&frameRate, "frame-rate", 0, "Frames per second (default playback.frame_rate)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")

	return cmd
}

// formatFrame renders a frame as sorted shape=weight pairs.
func formatFrame(f lipsync.Frame) string {
	parts := make([]string, 0, len(f))
	for shape, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%.3f", shape, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
