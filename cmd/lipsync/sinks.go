package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/sink"
)

// buildSink assembles the frame sink for one session. Viseme regions share a
// RegionSink, ARKit regions get their own BlendshapeSink, and frames are
// always logged at debug level.
func buildSink(cfg config.SinkConfig, logger zerolog.Logger) (lipsync.Sink, error) {
	sinks := sink.Multi{sink.NewLogSink(logger)}

	var regions []*sink.Region
	for _, rc := range cfg.Regions {
		name := rc.Name
		if name == "" {
			name = rc.Mesh
		}

		switch rc.Mode {
		case "", "viseme":
			r, err := sink.LoadRegion(name, rc.Path, rc.Mesh)
			if err != nil {
				return nil, fmt.Errorf("load region %s: %w", name, err)
			}
			logger.Info().
				Str("region", name).
				Int("targets", r.Weights.Len()).
				Int("visemes", len(r.Table)).
				Msg("Viseme region loaded")
			regions = append(regions, r)

		case "arkit":
			names, err := sink.MorphTargetNames(rc.Path, rc.Mesh)
			if err != nil {
				return nil, fmt.Errorf("load region %s: %w", name, err)
			}
			logger.Info().
				Str("region", name).
				Int("targets", len(names)).
				Msg("ARKit region loaded")
			sinks = append(sinks, sink.NewBlendshapeSink(sink.NewWeightBuffer(len(names)), names))

		default:
			return nil, fmt.Errorf("region %s: unknown mode %q", name, rc.Mode)
		}
	}

	if len(regions) > 0 {
		sinks = append(sinks, sink.NewRegionSink(regions...))
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}
