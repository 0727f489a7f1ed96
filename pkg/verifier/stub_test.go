package verifier

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/openai/openai-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roboloop/roboloop/pkg/spec"
)

func verdictMessage(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Content: content}
}

// frameWithMarker renders a 96x96 test frame: dark background, a white line
// at the center column, and a green marker column at markerX.
func frameWithMarker(markerX int) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, 96, 96))
	draw.Draw(frame, frame.Bounds(), &image.Uniform{C: color.RGBA{R: 18, G: 18, B: 18, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(frame, image.Rect(47, 0, 49, 96), &image.Uniform{C: color.RGBA{R: 255, G: 255, B: 255, A: 255}}, image.Point{}, draw.Src)
	draw.Draw(frame, image.Rect(markerX, 40, markerX+1, 56), &image.Uniform{C: color.RGBA{R: 30, G: 220, B: 30, A: 255}}, image.Point{}, draw.Src)
	return frame
}

func TestStubVerify(t *testing.T) {
	// Frame is 96px wide, so the line sits at column 48 and the default
	// margin of 4 makes 53 the first success column to the right.
	tt := map[string]struct {
		markerX         int
		params          map[string]any
		subtaskName     string
		expectedStatus  string
		expectedFailure string
	}{
		"crossed right": {
			markerX:        60,
			params:         map[string]any{spec.ParamTarget: "right"},
			subtaskName:    "cross_right",
			expectedStatus: spec.StatusSuccess,
		},
		"right margin is exclusive": {
			markerX:         52,
			params:          map[string]any{spec.ParamTarget: "right"},
			subtaskName:     "cross_right",
			expectedStatus:  spec.StatusFail,
			expectedFailure: FailureNotCrossedLine,
		},
		"just past right margin": {
			markerX:        53,
			params:         map[string]any{spec.ParamTarget: "right"},
			subtaskName:    "cross_right",
			expectedStatus: spec.StatusSuccess,
		},
		"crossed left": {
			markerX:        30,
			params:         map[string]any{spec.ParamTarget: "left"},
			subtaskName:    "cross_left",
			expectedStatus: spec.StatusSuccess,
		},
		"left margin is exclusive": {
			markerX:         44,
			params:          map[string]any{spec.ParamTarget: "left"},
			subtaskName:     "cross_left",
			expectedStatus:  spec.StatusFail,
			expectedFailure: FailureNotCrossedLine,
		},
		"target inferred from name": {
			markerX:        60,
			params:         map[string]any{},
			subtaskName:    "cross_right",
			expectedStatus: spec.StatusSuccess,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			s := NewStub(0)
			subtask := &spec.SubtaskSpec{Name: tc.subtaskName, Params: tc.params}

			got, err := s.Verify(context.Background(), nil, []*image.RGBA{frameWithMarker(tc.markerX)}, subtask, nil, nil)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedStatus, got.Status)
			assert.Equal(t, tc.expectedFailure, got.FailureMode)
			if tc.expectedStatus == spec.StatusSuccess {
				assert.Nil(t, got.Adjustment)
			} else {
				assert.NotNil(t, got.Adjustment)
			}
		})
	}
}

func TestStubVerifyMissingFrames(t *testing.T) {
	s := NewStub(0)
	subtask := &spec.SubtaskSpec{Name: "cross_right", Params: map[string]any{}}

	got, err := s.Verify(context.Background(), nil, nil, subtask, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, spec.StatusUncertain, got.Status)
	assert.Equal(t, FailureMissingFrames, got.FailureMode)
	require.NotNil(t, got.Adjustment)
	assert.Equal(t, 0.45, got.Adjustment[spec.ParamChunkDuration])
}

func TestStubVerifyAdjustmentIncrements(t *testing.T) {
	tt := map[string]struct {
		params           map[string]any
		expectedSpeed    float64
		expectedDuration float64
	}{
		"increments from current params": {
			params:           map[string]any{spec.ParamTarget: "right", spec.ParamSpeed: 0.5, spec.ParamChunkDuration: 0.4},
			expectedSpeed:    0.58,
			expectedDuration: 0.45,
		},
		"defaults when params missing": {
			params:           map[string]any{spec.ParamTarget: "right"},
			expectedSpeed:    0.43,
			expectedDuration: 0.4,
		},
		"capped at safe maxima": {
			params:           map[string]any{spec.ParamTarget: "right", spec.ParamSpeed: 1.18, spec.ParamChunkDuration: 0.79},
			expectedSpeed:    1.2,
			expectedDuration: 0.8,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			s := NewStub(0)
			subtask := &spec.SubtaskSpec{Name: "cross_right", Params: tc.params}

			// Marker left of the line so the right target always fails.
			got, err := s.Verify(context.Background(), nil, []*image.RGBA{frameWithMarker(20)}, subtask, nil, nil)
			require.NoError(t, err)

			require.Equal(t, spec.StatusFail, got.Status)
			require.NotNil(t, got.Adjustment)
			speed, ok := got.Adjustment[spec.ParamSpeed].(float64)
			require.True(t, ok)
			duration, ok := got.Adjustment[spec.ParamChunkDuration].(float64)
			require.True(t, ok)
			assert.InDelta(t, tc.expectedSpeed, speed, 1e-9)
			assert.InDelta(t, tc.expectedDuration, duration, 1e-9)
		})
	}
}

func TestExtractMarkerX(t *testing.T) {
	frame := frameWithMarker(70)
	assert.Equal(t, 70, extractMarkerX(frame))
}

func TestParseVerdict(t *testing.T) {
	tt := map[string]struct {
		content   string
		expectErr bool
	}{
		"bare json": {
			content: `{"status": "success", "confidence": 0.9, "failureMode": null, "adjustment": null, "notes": "ok"}`,
		},
		"prose wrapped json": {
			content: `The marker crossed. {"status": "success", "confidence": 0.9, "failureMode": null, "adjustment": null, "notes": "ok"} Done.`,
		},
		"empty": {
			content:   "",
			expectErr: true,
		},
		"no json object": {
			content:   "looks good to me",
			expectErr: true,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			got, err := parseVerdict(verdictMessage(tc.content))
			if tc.expectErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, spec.StatusSuccess, got["status"])
		})
	}
}
