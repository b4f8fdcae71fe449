// Package sink writes lip-sync frames onto mesh morph targets.
//
// Every mesh region (head, teeth, tongue, ...) carries its own shape-name to
// morph-index table. A shape missing from a region's table is skipped for
// that region only.
package sink

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/normanking/cortexlipsync/internal/lipsync"
	"github.com/normanking/cortexlipsync/internal/viseme"
)

var (
	ErrNoMesh          = errors.New("mesh not found")
	ErrNoMorphTargets  = errors.New("mesh has no named morph targets")
	ErrNoVisemeTargets = errors.New("mesh has no viseme morph targets")
)

// Table maps a shape to a morph target index within one region.
type Table map[viseme.Shape]int

// TableFromNames builds a table from a mesh's ordered morph target names.
// Only names carrying the "viseme_" prefix are considered, matched
// case-insensitively.
func TableFromNames(names []string) Table {
	t := make(Table)
	for i, name := range names {
		if !strings.HasPrefix(strings.ToLower(name), "viseme_") {
			continue
		}
		if s, ok := viseme.ParseShape(name); ok {
			if _, dup := t[s]; !dup {
				t[s] = i
			}
		}
	}
	return t
}

// WeightBuffer is the morph weight array of one mesh, shared between the
// sink and the renderer.
type WeightBuffer struct {
	mu sync.RWMutex
	w  []float32
}

// NewWeightBuffer creates a buffer of n zero weights.
func NewWeightBuffer(n int) *WeightBuffer {
	return &WeightBuffer{w: make([]float32, n)}
}

// Set writes one weight clamped to [0,1]. Out of range indices are ignored.
func (b *WeightBuffer) Set(i int, v float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.w) {
		return
	}
	b.w[i] = mgl32.Clamp(v, 0, 1)
}

// Get returns one weight.
func (b *WeightBuffer) Get(i int) float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.w) {
		return 0
	}
	return b.w[i]
}

// Snapshot returns a copy of all weights.
func (b *WeightBuffer) Snapshot() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]float32, len(b.w))
	copy(out, b.w)
	return out
}

// Len returns the number of weights.
func (b *WeightBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.w)
}

// Reset zeroes every weight.
func (b *WeightBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.w {
		b.w[i] = 0
	}
}

// Region is one mesh with its own morph table and weights.
type Region struct {
	Name    string
	Table   Table
	Weights *WeightBuffer
}

// NewRegion builds a region from ordered morph target names.
func NewRegion(name string, targetNames []string) *Region {
	return &Region{
		Name:    name,
		Table:   TableFromNames(targetNames),
		Weights: NewWeightBuffer(len(targetNames)),
	}
}

// RegionSink fans each frame out to every region.
type RegionSink struct {
	regions []*Region
}

// NewRegionSink creates a sink over the given regions.
func NewRegionSink(regions ...*Region) *RegionSink {
	return &RegionSink{regions: regions}
}

// Apply writes the frame's shapes into each region that has them.
func (s *RegionSink) Apply(frame lipsync.Frame) {
	for _, r := range s.regions {
		for shape, v := range frame {
			idx, ok := r.Table[shape]
			if !ok {
				continue
			}
			r.Weights.Set(idx, float32(v))
		}
	}
}

// Regions returns the configured regions.
func (s *RegionSink) Regions() []*Region {
	return s.regions
}

// Reset zeroes every region's weights.
func (s *RegionSink) Reset() {
	for _, r := range s.regions {
		r.Weights.Reset()
	}
}
