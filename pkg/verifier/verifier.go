// Package verifier classifies the outcome of one motion attempt from
// before/after observations.
package verifier

import (
	"context"
	"image"

	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/spec"
)

// Failure modes shared by the verifier variants.
const (
	FailureMissingFrames  = "missing_frames"
	FailureNotCrossedLine = "not_crossed_line"
	FailureAPIError       = "verifier_api_error"
)

// Verifier inspects before/after frame pairs (and optional observations) and
// classifies the attempt outcome. Implementations must tolerate empty frame
// lists by returning an uncertain result with a missing_frames failure mode
// rather than failing outright.
type Verifier interface {
	Verify(ctx context.Context, framesBefore, framesAfter []*image.RGBA, subtask *spec.SubtaskSpec, obsBefore, obsAfter *env.Observation) (*spec.VerifyResult, error)
}
