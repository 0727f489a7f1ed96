package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/roboloop/roboloop/pkg/spec"
)

const (
	decisionToolName = "submit_decision"

	// Only the most recent attempts are forwarded to the model.
	historyWindow = 4
)

const decisionSystemPrompt = `You are a ReAct-style orchestration agent in a robot manipulation loop. ` +
	`You may choose exactly one tool action from: move_left, move_right. ` +
	`Pick the action that best advances the current subtask instruction. ` +
	`You MUST always respond by calling the submit_decision tool with the chosen action and a short reason. ` +
	`Do not add any conversational text.`

// OpenAIReAct formats the subtask and a bounded window of prior attempts
// into a chat completion request and constrains the response to the closed
// action vocabulary via a submit_decision function tool. Service errors and
// out-of-vocabulary responses propagate to the caller.
type OpenAIReAct struct {
	client *openai.Client
	model  shared.ChatModel
}

var _ TaskAgent = &OpenAIReAct{}

// NewOpenAIReAct creates the model-backed agent. baseURL, apiKey and model
// come from the run configuration resolved at startup.
func NewOpenAIReAct(baseURL, apiKey, model string, timeout time.Duration) (*OpenAIReAct, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("both base URL and API key must be provided to create an openai agent")
	}
	if model == "" {
		return nil, fmt.Errorf("a model must be provided to create an openai agent")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	)

	return &OpenAIReAct{
		client: &client,
		model:  shared.ChatModel(model),
	}, nil
}

func (a *OpenAIReAct) Decide(ctx context.Context, subtask *spec.SubtaskSpec, attemptIndex int, previousAttempts []*spec.AttemptRecord) (*spec.Decision, error) {
	userPrompt, err := buildDecisionPrompt(subtask, attemptIndex, previousAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to build decision prompt: %w", err)
	}

	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       a.model,
		Temperature: openai.Float(0.0),
		MaxTokens:   openai.Int(200),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(decisionSystemPrompt),
			openai.UserMessage(userPrompt),
		},
		Tools: []openai.ChatCompletionToolUnionParam{decisionTool()},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	return parseDecision(completion.Choices[0].Message)
}

func decisionTool() openai.ChatCompletionToolUnionParam {
	return openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
		Name:        decisionToolName,
		Description: openai.String("Submit the chosen tool action for this attempt."),
		Parameters: shared.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type": "string",
					"enum": AllowedActions,
				},
				"reason": map[string]any{
					"type": "string",
				},
			},
			"required": []string{"action", "reason"},
		},
	})
}

func buildDecisionPrompt(subtask *spec.SubtaskSpec, attemptIndex int, previousAttempts []*spec.AttemptRecord) (string, error) {
	history := make([]map[string]any, 0, historyWindow)
	start := len(previousAttempts) - historyWindow
	if start < 0 {
		start = 0
	}
	for _, a := range previousAttempts[start:] {
		entry := map[string]any{
			"attemptIndex": a.AttemptIndex,
			"lastAction":   a.AgentAction,
		}
		if a.Verify != nil {
			entry["verifierStatus"] = a.Verify.Status
			entry["verifierNotes"] = a.Verify.Notes
		}
		history = append(history, entry)
	}

	prompt := map[string]any{
		"subtask": map[string]any{
			"name":            subtask.Name,
			"instruction":     subtask.Instruction,
			"successCriteria": subtask.SuccessCriteria,
			"params":          subtask.Params,
		},
		"attemptIndex":   attemptIndex,
		"recentHistory":  history,
		"allowedActions": AllowedActions,
		"taskOrderNote":  "Subtasks are executed sequentially by the orchestrator; focus only on the current subtask.",
	}

	data, err := json.Marshal(prompt)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseDecision extracts the decision from the submit_decision tool call,
// falling back to a JSON object in the message content.
func parseDecision(message openai.ChatCompletionMessage) (*spec.Decision, error) {
	raw := ""
	for _, toolCall := range message.ToolCalls {
		if toolCall.Function.Name == decisionToolName {
			raw = toolCall.Function.Arguments
			break
		}
	}
	if raw == "" {
		raw = strings.TrimSpace(message.Content)
	}
	if raw == "" {
		return nil, fmt.Errorf("empty decision response")
	}

	decision := &spec.Decision{}
	if err := json.Unmarshal([]byte(raw), decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision response: %w", err)
	}

	return ValidateDecision(decision)
}
