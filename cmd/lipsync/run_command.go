package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/ingest"
	"github.com/normanking/cortexlipsync/internal/lipsync"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var urls []string
	var latency time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the speech service and drive the avatar",
		Long: "Dial one word-timing WebSocket per --url and run a lip-sync session for each.\n" +
			"Frames go to the configured glTF regions, or to the log when none are set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				urls = []string{cfg.Ingest.URL}
			}
			if !cmd.Flags().Changed("latency") {
				latency = cfg.Playback.OutputLatency
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return runSessions(signalCtx, ctx, cfg, urls, latency)
		},
	}

	cmd.Flags().StringArrayVar(&urls, "url", nil, "Word-timing WebSocket URL (repeat for several avatars)")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Audio output latency added to the playback anchor")

	return cmd
}

func runSessions(ctx context.Context, cmdCtx *commandContext, cfg *config.Config, urls []string, latency time.Duration) error {
	log := cmdCtx.component("run")

	tuning, err := cfg.Tuning.Tuning()
	if err != nil {
		return err
	}

	events := bus.NewEventBus()
	subscribeLifecycle(events, log)

	registry := lipsync.NewRegistry()
	g, gctx := errgroup.WithContext(ctx)

	for _, url := range urls {
		sessionLog := cmdCtx.component("session")
		frames, err := buildSink(cfg.Sink, sessionLog)
		if err != nil {
			return err
		}

		session := registry.Create(lipsync.Options{
			Tuning: tuning,
			Sink:   frames,
			Logger: sessionLog,
			Bus:    events,
		})
		loop := lipsync.NewLoop(session, cfg.Playback.FrameRate, sessionLog)
		client := ingest.NewClient(ingest.ClientOptions{
			URL:              url,
			SessionID:        session.ID(),
			Target:           loop,
			Clock:            lipsync.NewSystemClock(),
			OutputLatency:    latency.Seconds(),
			HandshakeTimeout: cfg.Ingest.HandshakeTimeout,
			Logger:           sessionLog,
			Bus:              events,
		})

		// The loop lives as long as its connection.
		sessionCtx, stop := context.WithCancel(gctx)
		g.Go(func() error {
			if err := loop.Run(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			defer stop()
			defer registry.Remove(session.ID())
			if err := client.Run(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("session %s: %w", session.ID(), err)
			}
			return nil
		})

		log.Info().
			Str("session", session.ID()).
			Str("url", url).
			Dur("latency", latency).
			Float64("frame_rate", cfg.Playback.FrameRate).
			Msg("Session started")
	}

	if path := watchPath(cmdCtx.configPath); path != "" {
		err := config.Watch(gctx, path, log, func(next *config.Config) {
			t, err := next.Tuning.Tuning()
			if err != nil {
				return
			}
			registry.Each(func(s *lipsync.Session) { s.SetTuning(t) })
			log.Info().Int("sessions", registry.Len()).Msg("Tuning updated")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config hot reload disabled")
		}
	}

	err = g.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("Shutting down")
		return nil
	}
	return err
}

// watchPath returns the config file to watch: the explicit --config path or
// the default file if it exists.
func watchPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	dir, err := config.GetConfigDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(dir, "lipsync.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func subscribeLifecycle(events *bus.EventBus, log zerolog.Logger) {
	events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeConnected,
		bus.EventTypeDisconnected,
		bus.EventTypeSegmentArmed,
		bus.EventTypePlaybackStarted,
		bus.EventTypePlaybackStopped,
	}, func(e bus.Event) {
		log.Info().
			Str("event", string(e.Type)).
			Str("session", e.SessionID).
			Fields(e.Data).
			Msg("Lifecycle")
	})
	events.Subscribe(bus.EventTypeWordsDiscarded, func(e bus.Event) {
		log.Warn().Str("session", e.SessionID).Fields(e.Data).Msg("Words discarded")
	})
}
