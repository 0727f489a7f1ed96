package verifier

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/spec"
)

const (
	DefaultCrossingMarginPx = 4

	speedIncrement    = 0.08
	durationIncrement = 0.05
	maxSpeed          = 1.2
	maxChunkDuration  = 0.8
)

// Stub is the deterministic vision verifier with the same contract as the
// model-backed one: it derives the dominant-marker column from the after
// frame with a color-contrast heuristic and compares it against the frame's
// vertical midline.
type Stub struct {
	crossingMarginPx int
}

var _ Verifier = &Stub{}

func NewStub(crossingMarginPx int) *Stub {
	if crossingMarginPx <= 0 {
		crossingMarginPx = DefaultCrossingMarginPx
	}
	return &Stub{crossingMarginPx: crossingMarginPx}
}

func (s *Stub) Verify(_ context.Context, _, framesAfter []*image.RGBA, subtask *spec.SubtaskSpec, _, _ *env.Observation) (*spec.VerifyResult, error) {
	if len(framesAfter) == 0 {
		return ValidateOutput(map[string]any{
			"status":      spec.StatusUncertain,
			"confidence":  0.2,
			"failureMode": FailureMissingFrames,
			"adjustment":  map[string]any{spec.ParamChunkDuration: 0.45},
			"notes":       "No post-execution frame provided.",
		})
	}

	frame := framesAfter[len(framesAfter)-1]
	lineX := frame.Bounds().Dx() / 2
	markerX := extractMarkerX(frame)

	target, _ := subtask.Params[spec.ParamTarget].(string)
	target = strings.ToLower(target)
	if target == "" {
		if strings.Contains(subtask.Name, "right") {
			target = "right"
		} else {
			target = "left"
		}
	}

	crossed := false
	switch target {
	case "right":
		crossed = markerX > lineX+s.crossingMarginPx
	case "left":
		crossed = markerX < lineX-s.crossingMarginPx
	}

	if crossed {
		return ValidateOutput(map[string]any{
			"status":      spec.StatusSuccess,
			"confidence":  0.92,
			"failureMode": nil,
			"adjustment":  nil,
			"notes":       fmt.Sprintf("Marker crossed line to the %s. marker_x=%d, line_x=%d.", target, markerX, lineX),
		})
	}

	speed := floatOrDefault(subtask.Params[spec.ParamSpeed], 0.35)
	chunkDuration := floatOrDefault(subtask.Params[spec.ParamChunkDuration], 0.35)
	return ValidateOutput(map[string]any{
		"status":      spec.StatusFail,
		"confidence":  0.78,
		"failureMode": FailureNotCrossedLine,
		"adjustment": map[string]any{
			spec.ParamSpeed:         min(maxSpeed, speed+speedIncrement),
			spec.ParamChunkDuration: min(maxChunkDuration, chunkDuration+durationIncrement),
		},
		"notes": fmt.Sprintf("Still not across line. marker_x=%d, line_x=%d, target=%s.", markerX, lineX, target),
	})
}

// extractMarkerX isolates the green marker from the white line by penalizing
// red/blue channels and picking the column with the highest mean score.
func extractMarkerX(frame *image.RGBA) int {
	bounds := frame.Bounds()
	bestX, bestScore := 0, float64(-1<<30)

	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		score := 0.0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			px := frame.RGBAAt(x, y)
			score += float64(px.G) - 0.5*float64(px.R) - 0.5*float64(px.B)
		}
		if score > bestScore {
			bestScore = score
			bestX = x - bounds.Min.X
		}
	}

	return bestX
}

func floatOrDefault(v any, fallback float64) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	return fallback
}
