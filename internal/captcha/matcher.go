package captcha

import (
	"fmt"
	"image"

	"icplookup/internal/imaging"
	"icplookup/internal/logging"
)

const slotCount = 4

// The four reference slices live at fixed pixel rectangles of the small
// image. These offsets are part of the target's layout contract.
var slotRects = [slotCount]image.Rectangle{
	image.Rect(163, 9, 193, 41),
	image.Rect(198, 9, 225, 41),
	image.Rect(230, 9, 259, 41),
	image.Rect(263, 9, 294, 41),
}

// similarityScorer is what the matcher needs from the scoring stage.
// *Scorer satisfies it; tests substitute a deterministic table.
type similarityScorer interface {
	Score(reference, candidate image.Image) (float32, error)
}

// Matcher assigns one detected candidate center to each of the four
// reference slots.
type Matcher struct {
	scorer similarityScorer
}

// NewMatcher builds a matcher over the given scorer.
func NewMatcher(scorer similarityScorer) *Matcher {
	return &Matcher{scorer: scorer}
}

// Assign scores every candidate against each reference slice, in slot
// order, and claims the best-scoring candidate's center for each slot.
//
// When the best candidate's center was already claimed by an earlier slot
// (compared by object identity), the fallback is the first unclaimed
// center in original detection order — not the second-best score. This
// mirrors the behavior the downstream verifier was measured against;
// verification tolerates the occasional imprecision.
func (m *Matcher) Assign(small *image.RGBA, candidates []*Candidate) (SlotAssignment, error) {
	var assignment SlotAssignment
	claimed := make(map[*Point]bool, slotCount)

	for slot, rect := range slotRects {
		slice := imaging.Crop(small, rect)

		scored := make([]ScoredCandidate, 0, len(candidates))
		for _, cand := range candidates {
			score, err := m.scorer.Score(slice, cand.Thumb)
			if err != nil {
				return SlotAssignment{}, fmt.Errorf("score slot %d: %w", slot, err)
			}
			scored = append(scored, ScoredCandidate{Candidate: cand, Similarity: score})
		}

		// Arg-max with first-occurrence-wins tie-break.
		best := scored[0]
		for _, sc := range scored[1:] {
			if sc.Similarity > best.Similarity {
				best = sc
			}
		}
		choice := best.Candidate.Center

		if claimed[choice] {
			choice = nil
			for _, sc := range scored {
				if !claimed[sc.Candidate.Center] {
					choice = sc.Candidate.Center
					break
				}
			}
			if choice == nil {
				return SlotAssignment{}, fmt.Errorf("%w: no unclaimed candidate for slot %d", ErrIncompleteAssignment, slot)
			}
			logging.CaptchaDebug("slot %d: best candidate already claimed, fell back to %v", slot, *choice)
		}

		claimed[choice] = true
		assignment[slot] = choice
	}

	// Should be unreachable with validated input; checked defensively.
	for i, p := range assignment {
		if p == nil {
			return SlotAssignment{}, fmt.Errorf("%w: slot %d unassigned", ErrIncompleteAssignment, i)
		}
	}
	return assignment, nil
}
