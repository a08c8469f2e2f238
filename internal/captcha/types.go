// Package captcha implements the slider-captcha solving pipeline: object
// detection over the background image, dominant-color denoising of each
// detected crop, twin-network similarity scoring against the four
// reference slices, slot assignment and encryption of the solution.
package captcha

import (
	"errors"
	"image"
)

// Point is one click coordinate on the background image.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Candidate is one detected, denoised puzzle-piece location. Center is a
// pointer on purpose: slot assignment tracks claimed points by object
// identity, not by coordinate value.
type Candidate struct {
	Box    image.Rectangle
	Center *Point
	Thumb  *image.RGBA
}

// ScoredCandidate pairs a candidate with its similarity against one
// reference slice. Ephemeral; lives only inside one slot evaluation.
type ScoredCandidate struct {
	Candidate  *Candidate
	Similarity float32
}

// SlotAssignment is the ordered solution: one point per reference slice.
// All four entries are pairwise distinct as objects.
type SlotAssignment [slotCount]*Point

// Points returns the assignment as values, in slot order.
func (a SlotAssignment) Points() []Point {
	out := make([]Point, 0, len(a))
	for _, p := range a {
		out = append(out, *p)
	}
	return out
}

var (
	// ErrInsufficientCandidates means the detector found fewer than four
	// boxes. The challenge cannot be solved; the protocol layer retries
	// with a fresh one.
	ErrInsufficientCandidates = errors.New("captcha: fewer than 4 candidates detected")

	// ErrIncompleteAssignment means slot matching could not claim four
	// distinct points.
	ErrIncompleteAssignment = errors.New("captcha: incomplete slot assignment")
)
