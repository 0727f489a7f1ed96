package verifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/spec"
)

const verdictToolName = "submit_verdict"

const verdictSystemPrompt = `You are a strict vision verifier in a simulated robot loop. ` +
	`Scene semantics: black background; white vertical center line (goal boundary); green rectangle is the arm marker. ` +
	`Task semantics: compare BEFORE vs AFTER images after one motion chunk. ` +
	`You MUST always respond by calling the submit_verdict tool with fields: status, confidence, failureMode, adjustment, notes. ` +
	`status must be one of success/fail/uncertain. ` +
	`If target direction is right, success means the marker is clearly to the right of the white line. ` +
	`If target direction is left, success means the marker is clearly to the left of the white line. ` +
	`If fail, propose small adjustment values for speed and/or chunk_duration_s. ` +
	`Do not add any conversational text.`

// OpenAIVision sends the before/after frames with the task metadata to a
// vision-capable chat model and validates the structured response against
// the output schema. Transport and parsing failures are downgraded to an
// uncertain result with a verifier_api_error failure mode so that backend
// instability never crashes the loop.
type OpenAIVision struct {
	client *openai.Client
	model  shared.ChatModel
}

var _ Verifier = &OpenAIVision{}

func NewOpenAIVision(baseURL, apiKey, model string, timeout time.Duration) (*OpenAIVision, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("both base URL and API key must be provided to create an openai vision verifier")
	}
	if model == "" {
		return nil, fmt.Errorf("a model must be provided to create an openai vision verifier")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	)

	return &OpenAIVision{
		client: &client,
		model:  shared.ChatModel(model),
	}, nil
}

func (v *OpenAIVision) Verify(ctx context.Context, framesBefore, framesAfter []*image.RGBA, subtask *spec.SubtaskSpec, _, _ *env.Observation) (*spec.VerifyResult, error) {
	if len(framesBefore) == 0 || len(framesAfter) == 0 {
		return ValidateOutput(map[string]any{
			"status":      spec.StatusUncertain,
			"confidence":  0.2,
			"failureMode": FailureMissingFrames,
			"adjustment":  map[string]any{spec.ParamChunkDuration: 0.35},
			"notes":       "Missing before/after frame for verification.",
		})
	}

	result, err := v.judgeFrames(ctx, framesBefore[len(framesBefore)-1], framesAfter[len(framesAfter)-1], subtask)
	if err != nil {
		return ValidateOutput(map[string]any{
			"status":      spec.StatusUncertain,
			"confidence":  0.25,
			"failureMode": FailureAPIError,
			"adjustment":  map[string]any{spec.ParamChunkDuration: 0.35},
			"notes":       fmt.Sprintf("Vision verifier error: %v", err),
		})
	}

	return result, nil
}

func (v *OpenAIVision) judgeFrames(ctx context.Context, before, after *image.RGBA, subtask *spec.SubtaskSpec) (*spec.VerifyResult, error) {
	beforeURL, err := frameToDataURL(before)
	if err != nil {
		return nil, fmt.Errorf("failed to encode before frame: %w", err)
	}
	afterURL, err := frameToDataURL(after)
	if err != nil {
		return nil, fmt.Errorf("failed to encode after frame: %w", err)
	}

	userParts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(buildVerdictPrompt(subtask)),
		openai.TextContentPart("Image label: BEFORE (before.png)."),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: beforeURL}),
		openai.TextContentPart("Image label: AFTER (after.png)."),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: afterURL}),
	}

	completion, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       v.model,
		Temperature: openai.Float(0.0),
		MaxTokens:   openai.Int(220),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(verdictSystemPrompt),
			openai.UserMessage(userParts),
		},
		Tools: []openai.ChatCompletionToolUnionParam{verdictTool()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	raw, err := parseVerdict(completion.Choices[0].Message)
	if err != nil {
		return nil, err
	}

	return ValidateOutput(raw)
}

func verdictTool() openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        verdictToolName,
		Description: openai.String("Submit the structured verification verdict for this attempt."),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"status":      map[string]any{"type": "string", "enum": []string{spec.StatusSuccess, spec.StatusFail, spec.StatusUncertain}},
				"confidence":  map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
				"failureMode": map[string]any{"type": []string{"string", "null"}},
				"adjustment":  map[string]any{"type": []string{"object", "null"}},
				"notes":       map[string]any{"type": []string{"string", "null"}},
			},
			"required": []string{"status", "confidence", "failureMode", "adjustment", "notes"},
		},
	})
}

func buildVerdictPrompt(subtask *spec.SubtaskSpec) string {
	params, _ := json.Marshal(subtask.Params)
	return fmt.Sprintf(
		"Subtask: %s\nInstruction: %s\nSuccess criteria: %s\nParameters: %s\n"+
			"The BEFORE image is pre-action; the AFTER image is post-action. "+
			"Decide whether the crossing objective is complete now.",
		subtask.Name, subtask.Instruction, subtask.SuccessCriteria, params,
	)
}

// parseVerdict extracts the verdict object from the submit_verdict tool
// call, falling back to a JSON object embedded in the message content.
func parseVerdict(message openai.ChatCompletionMessage) (map[string]any, error) {
	raw := ""
	for _, toolCall := range message.ToolCalls {
		if toolCall.Function.Name == verdictToolName {
			raw = toolCall.Function.Arguments
			break
		}
	}
	if raw == "" {
		raw = strings.TrimSpace(message.Content)
		// Tolerate prose-wrapped JSON by slicing the outermost object.
		if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
			raw = raw[start : end+1]
		}
	}
	if raw == "" {
		return nil, fmt.Errorf("empty verifier response")
	}

	obj := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("failed to parse verifier response: %w", err)
	}

	return obj, nil
}

func frameToDataURL(frame *image.RGBA) (string, error) {
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, frame); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
