package motion

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/spec"
)

// scriptedEnv is a minimal env.Env that records commanded actions and turns
// unsafe after a configurable number of steps.
type scriptedEnv struct {
	stepCount    int
	unsafeAfter  int
	lastCommands []float64
}

var _ env.Env = &scriptedEnv{}

func (s *scriptedEnv) Reset() *env.Observation { return s.Observe() }

func (s *scriptedEnv) Step(action env.Action) *env.Observation {
	s.stepCount++
	s.lastCommands = append(s.lastCommands, action.DX)
	return &env.Observation{
		ArmPos: float64(s.stepCount) * 0.01,
		TimeS:  float64(s.stepCount) * 0.02,
	}
}

func (s *scriptedEnv) Observe() *env.Observation {
	return &env.Observation{ArmPos: float64(s.stepCount) * 0.01}
}

func (s *scriptedEnv) RecentFrames(n int) []*image.RGBA { return nil }

func (s *scriptedEnv) SafetyCheck() bool {
	return s.unsafeAfter == 0 || s.stepCount < s.unsafeAfter
}

func (s *scriptedEnv) Close() {}

func TestInferDirection(t *testing.T) {
	tt := map[string]struct {
		subtaskName string
		params      map[string]any
		expected    string
		expectErr   bool
	}{
		"explicit target wins": {
			subtaskName: "cross_right",
			params:      map[string]any{spec.ParamTarget: "left"},
			expected:    "left",
		},
		"target normalized": {
			subtaskName: "step",
			params:      map[string]any{spec.ParamTarget: "RIGHT"},
			expected:    "right",
		},
		"fallback to name right": {
			subtaskName: "cross_right",
			params:      map[string]any{},
			expected:    "right",
		},
		"fallback to name left": {
			subtaskName: "move_left_slow",
			params:      map[string]any{},
			expected:    "left",
		},
		"invalid target falls back to name": {
			subtaskName: "cross_left",
			params:      map[string]any{spec.ParamTarget: "up"},
			expected:    "left",
		},
		"no direction anywhere": {
			subtaskName: "grasp_cube",
			params:      map[string]any{},
			expectErr:   true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got, err := InferDirection(tc.subtaskName, tc.params)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestExecuteChunkStepCount(t *testing.T) {
	tt := map[string]struct {
		params        map[string]any
		expectedSteps int
	}{
		"rounded step count": {
			params:        map[string]any{spec.ParamChunkDuration: 0.34},
			expectedSteps: 17,
		},
		"defaults when params missing": {
			params:        map[string]any{},
			expectedSteps: 18, // round(0.35 * 50)
		},
		"minimum one step": {
			params:        map[string]any{spec.ParamChunkDuration: 0.001},
			expectedSteps: 1,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			e := &scriptedEnv{}
			report, err := ExecuteChunk(context.Background(), e, "cross_right", tc.params, 50)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedSteps, report.Steps)
			assert.Equal(t, ReasonChunkComplete, report.TerminatedReason)
			assert.Len(t, report.Telemetry.ArmPos, tc.expectedSteps)
			assert.Len(t, report.Telemetry.TimeS, tc.expectedSteps)
		})
	}
}

func TestExecuteChunkSpeedClamp(t *testing.T) {
	tt := map[string]struct {
		params     map[string]any
		expectedDX float64
	}{
		"above max clamps down": {
			params:     map[string]any{spec.ParamSpeed: 5.0},
			expectedDX: MaxSpeed,
		},
		"below min clamps up": {
			params:     map[string]any{spec.ParamSpeed: 0.001},
			expectedDX: MinSpeed,
		},
		"left negates": {
			params:     map[string]any{spec.ParamSpeed: 0.5, spec.ParamTarget: "left"},
			expectedDX: -0.5,
		},
		"integer speed tolerated": {
			params:     map[string]any{spec.ParamSpeed: 1},
			expectedDX: 1.0,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			e := &scriptedEnv{}
			report, err := ExecuteChunk(context.Background(), e, "cross_right", tc.params, 50)
			require.NoError(t, err)

			assert.InDelta(t, tc.expectedDX, report.CommandedDX, 1e-9)
			require.NotEmpty(t, e.lastCommands)
			assert.InDelta(t, tc.expectedDX, e.lastCommands[0], 1e-9)
		})
	}
}

func TestExecuteChunkSafetyStop(t *testing.T) {
	e := &scriptedEnv{unsafeAfter: 5}
	report, err := ExecuteChunk(context.Background(), e, "cross_right", map[string]any{spec.ParamChunkDuration: 0.8}, 50)
	require.NoError(t, err)

	assert.Equal(t, ReasonSafetyStop, report.TerminatedReason)
	// Telemetry from completed steps is retained, including the violating step.
	assert.Equal(t, 5, report.Steps)
	assert.Len(t, report.Telemetry.ArmPos, 5)
}

func TestExecuteChunkDeadlineStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := &scriptedEnv{}
	report, err := ExecuteChunk(ctx, e, "cross_right", map[string]any{}, 50)
	require.NoError(t, err)

	assert.Equal(t, ReasonDeadlineStop, report.TerminatedReason)
	assert.Equal(t, 0, report.Steps)
	assert.Equal(t, 0, e.stepCount)
}

func TestExecuteChunkUnknownDirection(t *testing.T) {
	e := &scriptedEnv{}
	_, err := ExecuteChunk(context.Background(), e, "grasp_cube", map[string]any{}, 50)
	assert.Error(t, err)
	assert.Equal(t, 0, e.stepCount)
}
