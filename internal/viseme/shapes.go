// Package viseme converts phonetic transcriptions into mouth-shape tokens.
// Shape names follow the 15 Oculus lip-sync visemes as exposed by
// ReadyPlayerMe-style avatars (morph targets named "viseme_<id>").
package viseme

import "strings"

// Shape is a mouth-shape name as it appears in a mesh's morph target table.
type Shape string

const (
	ShapeSil Shape = "viseme_sil" // Silence / neutral
	ShapePP  Shape = "viseme_PP"  // p, b, m
	ShapeFF  Shape = "viseme_FF"  // f, v
	ShapeTH  Shape = "viseme_TH"  // θ, ð
	ShapeDD  Shape = "viseme_DD"  // t, d
	ShapeKK  Shape = "viseme_kk"  // k, g
	ShapeCH  Shape = "viseme_CH"  // tʃ, dʒ, ʃ, ʒ
	ShapeSS  Shape = "viseme_SS"  // s, z
	ShapeNN  Shape = "viseme_nn"  // n, l
	ShapeRR  Shape = "viseme_RR"  // ɹ
	ShapeAA  Shape = "viseme_aa"  // a (as in "father")
	ShapeE   Shape = "viseme_E"   // e (as in "bed")
	ShapeI   Shape = "viseme_I"   // i (as in "sit")
	ShapeO   Shape = "viseme_O"   // o (as in "go")
	ShapeU   Shape = "viseme_U"   // u (as in "boot")
)

// Neutral is the fallback shape for tokens with no table entry.
const Neutral = ShapeSil

// AllShapes lists every shape in Oculus id order.
var AllShapes = []Shape{
	ShapeSil, ShapePP, ShapeFF, ShapeTH, ShapeDD,
	ShapeKK, ShapeCH, ShapeSS, ShapeNN, ShapeRR,
	ShapeAA, ShapeE, ShapeI, ShapeO, ShapeU,
}

// IsVowel reports whether the shape is produced by a vowel.
func (s Shape) IsVowel() bool {
	switch s {
	case ShapeAA, ShapeE, ShapeI, ShapeO, ShapeU:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known shapes.
func (s Shape) Valid() bool {
	for _, known := range AllShapes {
		if s == known {
			return true
		}
	}
	return false
}

func (s Shape) String() string {
	return string(s)
}

// ParseShape resolves a shape name case-insensitively, with or without the
// "viseme_" prefix. Configuration keys arrive lowercased, so "viseme_pp" and
// "PP" both resolve to ShapePP.
func ParseShape(name string) (Shape, bool) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "viseme_")
	for _, s := range AllShapes {
		if strings.ToLower(strings.TrimPrefix(string(s), "viseme_")) == name {
			return s, true
		}
	}
	return "", false
}
