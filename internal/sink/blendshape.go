package sink

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

// BlendshapeIndex is an ARKit mouth blendshape.
type BlendshapeIndex int

const (
	JawOpen BlendshapeIndex = iota
	MouthClose
	MouthFunnel
	MouthPucker
	MouthLowerDownLeft
	MouthLowerDownRight
	MouthUpperUpLeft
	MouthUpperUpRight
	MouthStretchLeft
	MouthStretchRight
	MouthSmileLeft
	MouthSmileRight
	TongueOut
	BlendshapeCount
)

var BlendshapeNames = [BlendshapeCount]string{
	"jawOpen",
	"mouthClose",
	"mouthFunnel",
	"mouthPucker",
	"mouthLowerDownLeft",
	"mouthLowerDownRight",
	"mouthUpperUpLeft",
	"mouthUpperUpRight",
	"mouthStretchLeft",
	"mouthStretchRight",
	"mouthSmileLeft",
	"mouthSmileRight",
	"tongueOut",
}

type BlendshapeMapping struct {
	Index  BlendshapeIndex
	Weight float32
}

var visemeToBlendshapes = map[viseme.Shape][]BlendshapeMapping{
	viseme.ShapeSil: {},
	viseme.ShapePP:  {{MouthClose, 0.8}, {MouthPucker, 0.3}},
	viseme.ShapeFF:  {{MouthFunnel, 0.5}, {MouthLowerDownLeft, 0.2}, {MouthLowerDownRight, 0.2}},
	viseme.ShapeTH:  {{MouthFunnel, 0.3}, {TongueOut, 0.4}},
	viseme.ShapeDD:  {{JawOpen, 0.2}, {MouthUpperUpLeft, 0.2}, {MouthUpperUpRight, 0.2}},
	viseme.ShapeKK:  {{JawOpen, 0.25}, {MouthStretchLeft, 0.2}, {MouthStretchRight, 0.2}},
	viseme.ShapeCH:  {{MouthFunnel, 0.4}, {MouthPucker, 0.3}},
	viseme.ShapeSS:  {{MouthStretchLeft, 0.3}, {MouthStretchRight, 0.3}},
	viseme.ShapeNN:  {{JawOpen, 0.15}, {MouthClose, 0.3}},
	viseme.ShapeRR:  {{MouthPucker, 0.4}, {MouthFunnel, 0.2}},
	viseme.ShapeAA:  {{JawOpen, 0.6}, {MouthStretchLeft, 0.2}, {MouthStretchRight, 0.2}},
	viseme.ShapeE:   {{JawOpen, 0.3}, {MouthSmileLeft, 0.3}, {MouthSmileRight, 0.3}},
	viseme.ShapeI:   {{JawOpen, 0.2}, {MouthSmileLeft, 0.4}, {MouthSmileRight, 0.4}},
	viseme.ShapeO:   {{JawOpen, 0.4}, {MouthFunnel, 0.5}, {MouthPucker, 0.3}},
	viseme.ShapeU:   {{JawOpen, 0.25}, {MouthPucker, 0.6}, {MouthFunnel, 0.4}},
}

type BlendshapeWeights [BlendshapeCount]float32

func (w *BlendshapeWeights) Set(idx BlendshapeIndex, value float32) {
	w[idx] = mgl32.Clamp(value, 0, 1)
}

func (w *BlendshapeWeights) Get(idx BlendshapeIndex) float32 {
	return w[idx]
}

func (w *BlendshapeWeights) Reset() {
	for i := range w {
		w[i] = 0
	}
}

func BlendshapeIndexFromName(name string) BlendshapeIndex {
	for i, n := range BlendshapeNames {
		if n == name {
			return BlendshapeIndex(i)
		}
	}
	return -1
}

// BlendshapeSink drives ARKit-rigged meshes that have no viseme morphs.
// Shape levels are remembered across frames since a frame only carries the
// shapes that changed or are still live.
type BlendshapeSink struct {
	mu      sync.Mutex
	levels  map[viseme.Shape]float64
	weights BlendshapeWeights

	out     *WeightBuffer
	targets map[BlendshapeIndex]int
}

// NewBlendshapeSink creates a sink. When out is non-nil, weights are also
// written into it at the morph indices named by targetNames.
func NewBlendshapeSink(out *WeightBuffer, targetNames []string) *BlendshapeSink {
	s := &BlendshapeSink{
		levels:  make(map[viseme.Shape]float64),
		out:     out,
		targets: make(map[BlendshapeIndex]int),
	}
	for i, name := range targetNames {
		if idx := BlendshapeIndexFromName(name); idx >= 0 {
			s.targets[idx] = i
		}
	}
	return s
}

// Apply folds the frame into the blendshape weights.
func (s *BlendshapeSink) Apply(frame lipsync.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for shape, v := range frame {
		if v <= 0 {
			delete(s.levels, shape)
			continue
		}
		s.levels[shape] = v
	}

	var sum [BlendshapeCount]float32
	for shape, level := range s.levels {
		for _, m := range visemeToBlendshapes[shape] {
			sum[m.Index] += m.Weight * float32(level)
		}
	}
	for i := range sum {
		s.weights.Set(BlendshapeIndex(i), sum[i])
	}

	if s.out == nil {
		return
	}
	for idx, morph := range s.targets {
		s.out.Set(morph, s.weights[idx])
	}
}

// Weights returns the current blendshape weights.
func (s *BlendshapeSink) Weights() BlendshapeWeights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights
}
