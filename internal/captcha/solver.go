package captcha

import (
	"context"
	"image"

	"icplookup/internal/inference"
	"icplookup/internal/logging"
)

// Solver runs the complete pipeline for one challenge: detect candidates
// on the background image, match them to the four reference slots, and
// return the click points. Sessions are loaded once and reused across
// challenges.
type Solver struct {
	detector *Detector
	matcher  *Matcher
}

// NewSolver builds a solver over the two loaded network sessions.
func NewSolver(detection, similarity inference.Session) *Solver {
	return &Solver{
		detector: NewDetector(detection),
		matcher:  NewMatcher(NewScorer(similarity)),
	}
}

// Solve produces the slot assignment for one challenge. The context is
// consulted between pipeline stages; inference itself is synchronous.
func (s *Solver) Solve(ctx context.Context, background, small *image.RGBA) (SlotAssignment, error) {
	timer := logging.StartTimer(logging.CategoryCaptcha, "solve")
	defer timer.Stop()

	candidates, err := s.detector.Detect(background)
	if err != nil {
		return SlotAssignment{}, err
	}
	if err := ctx.Err(); err != nil {
		return SlotAssignment{}, err
	}

	assignment, err := s.matcher.Assign(small, candidates)
	if err != nil {
		return SlotAssignment{}, err
	}

	logging.Captcha("solved challenge: %d candidates, points %v", len(candidates), assignment.Points())
	return assignment, nil
}
