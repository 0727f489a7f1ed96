// Package motion drives the environment through one bounded chunk of
// low-level control steps.
package motion

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/spec"
)

const (
	// Commanded displacement magnitude is clamped to this range.
	MinSpeed = 0.05
	MaxSpeed = 1.2

	defaultSpeed         = 0.35
	defaultChunkDuration = 0.35
)

// Termination reasons reported on the execution report.
const (
	ReasonChunkComplete = "chunk_complete"
	ReasonSafetyStop    = "safety_stop"
	ReasonDeadlineStop  = "deadline_stop"
)

// InferDirection resolves the motion direction from an explicit target
// parameter, falling back to a substring match against the subtask name.
func InferDirection(subtaskName string, params map[string]any) (string, error) {
	if target, ok := params[spec.ParamTarget].(string); ok {
		switch strings.ToLower(target) {
		case "left", "right":
			return strings.ToLower(target), nil
		}
	}
	if strings.Contains(subtaskName, "right") {
		return "right", nil
	}
	if strings.Contains(subtaskName, "left") {
		return "left", nil
	}
	return "", fmt.Errorf("could not infer motion direction from subtask: %s", subtaskName)
}

// ExecuteChunk realizes one motion chunk: a constant per-step displacement
// applied for round(chunk_duration_s * control_hz) steps (minimum 1).
// The environment's safety predicate is queried after every step; on
// violation the chunk stops immediately with partial telemetry retained.
// Context expiry between steps stops the chunk the same way with a
// deadline_stop reason.
func ExecuteChunk(ctx context.Context, e env.Env, subtaskName string, params map[string]any, controlHz int) (*spec.ExecutionReport, error) {
	speed := floatParam(params, spec.ParamSpeed, defaultSpeed)
	chunkDuration := floatParam(params, spec.ParamChunkDuration, defaultChunkDuration)

	direction, err := InferDirection(subtaskName, params)
	if err != nil {
		return nil, err
	}

	sign := 1.0
	if direction == "left" {
		sign = -1.0
	}
	dx := sign * math.Max(MinSpeed, math.Min(speed, MaxSpeed))

	steps := int(math.Round(chunkDuration * float64(controlHz)))
	if steps < 1 {
		steps = 1
	}

	report := &spec.ExecutionReport{
		TerminatedReason: ReasonChunkComplete,
		Telemetry: spec.Telemetry{
			ArmPos: make([]float64, 0, steps),
			TimeS:  make([]float64, 0, steps),
		},
		Direction:   direction,
		CommandedDX: dx,
	}

	for range steps {
		if ctx.Err() != nil {
			report.TerminatedReason = ReasonDeadlineStop
			break
		}

		obs := e.Step(env.Action{DX: dx})
		report.Telemetry.ArmPos = append(report.Telemetry.ArmPos, obs.ArmPos)
		report.Telemetry.TimeS = append(report.Telemetry.TimeS, obs.TimeS)

		if !e.SafetyCheck() {
			report.TerminatedReason = ReasonSafetyStop
			break
		}
	}

	report.Steps = len(report.Telemetry.TimeS)

	return report, nil
}

// floatParam reads a numeric parameter, tolerating the integer shapes YAML
// and JSON decoding produce.
func floatParam(params map[string]any, key string, fallback float64) float64 {
	v, ok := params[key]
	if !ok {
		return fallback
	}

	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}
