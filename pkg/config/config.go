// Package config loads the YAML run document and assembles the run's
// collaborators from it. Model credentials are resolved from the environment
// exactly once, here, and passed by value into constructors; core logic
// never reads the environment ambiently.
package config

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/roboloop/roboloop/pkg/agent"
	"github.com/roboloop/roboloop/pkg/spec"
	"github.com/roboloop/roboloop/pkg/util"
	"github.com/roboloop/roboloop/pkg/verifier"
)

const (
	KindRunConfig = "RunConfig"

	AgentTypeRuleBased   = "rule_based"
	AgentTypeOpenAIReAct = "openai_react"

	VerifierTypeStub         = "stub"
	VerifierTypeOpenAIVision = "openai_vision"

	defaultControlHz         = 50
	defaultRunDir            = "runs"
	defaultMaxRetries        = 2
	defaultMaxAttemptSeconds = 10.0
	defaultBaseURL           = "https://api.openai.com/v1"
)

// RunConfig is the top-level run document.
type RunConfig struct {
	util.TypeMeta
	Metadata Metadata `json:"metadata"`
	Config   Config   `json:"config"`
}

type Metadata struct {
	Name string `json:"name"`
}

type Config struct {
	ControlHz int    `json:"controlHz,omitempty"`
	RunDir    string `json:"runDir,omitempty"`
	Verbose   bool   `json:"verbose,omitempty"`

	Env      EnvConfig      `json:"env,omitempty"`
	Agent    AgentConfig    `json:"agent,omitempty"`
	Verifier VerifierConfig `json:"verifier,omitempty"`
	Task     TaskConfig     `json:"task"`
}

type EnvConfig struct {
	ArmLimit    float64 `json:"armLimit,omitempty"`
	FrameHeight int     `json:"frameHeight,omitempty"`
	FrameWidth  int     `json:"frameWidth,omitempty"`
}

// ModelEnvConfig names the environment variables the model credentials are
// read from, following the same shape the run document uses for any
// model-backed component.
type ModelEnvConfig struct {
	BaseURLKey   string `json:"baseUrlKey"`
	APIKeyKey    string `json:"apiKeyKey"`
	ModelNameKey string `json:"modelNameKey"`
}

// ModelCredentials is the resolved credential set handed to constructors.
type ModelCredentials struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Resolve reads the configured environment variables once. Unset keys fall
// back to the standard OPENAI_* variables; the base URL falls back to the
// public endpoint.
func (m *ModelEnvConfig) Resolve() ModelCredentials {
	baseURLKey, apiKeyKey, modelKey := "OPENAI_BASE_URL", "OPENAI_API_KEY", "OPENAI_MODEL"
	if m != nil {
		if m.BaseURLKey != "" {
			baseURLKey = m.BaseURLKey
		}
		if m.APIKeyKey != "" {
			apiKeyKey = m.APIKeyKey
		}
		if m.ModelNameKey != "" {
			modelKey = m.ModelNameKey
		}
	}

	creds := ModelCredentials{
		BaseURL: os.Getenv(baseURLKey),
		APIKey:  os.Getenv(apiKeyKey),
		Model:   os.Getenv(modelKey),
	}
	if creds.BaseURL == "" {
		creds.BaseURL = defaultBaseURL
	}
	return creds
}

type AgentConfig struct {
	Type           string          `json:"type,omitempty"`
	Model          string          `json:"model,omitempty"`
	TimeoutSeconds float64         `json:"timeoutSeconds,omitempty"`
	Env            *ModelEnvConfig `json:"env,omitempty"`
}

type VerifierConfig struct {
	Type             string          `json:"type,omitempty"`
	CrossingMarginPx *int            `json:"crossingMarginPx,omitempty"`
	Model            string          `json:"model,omitempty"`
	TimeoutSeconds   float64         `json:"timeoutSeconds,omitempty"`
	Env              *ModelEnvConfig `json:"env,omitempty"`
}

type TaskConfig struct {
	Name     string          `json:"name"`
	Subtasks []SubtaskConfig `json:"subtasks"`
}

type SubtaskConfig struct {
	Name              string         `json:"name"`
	Instruction       string         `json:"instruction"`
	SuccessCriteria   string         `json:"successCriteria"`
	Params            map[string]any `json:"params,omitempty"`
	MaxRetries        *int           `json:"maxRetries,omitempty"`
	MaxAttemptSeconds *float64       `json:"maxAttemptSeconds,omitempty"`
}

func (c *RunConfig) UnmarshalJSON(data []byte) error {
	type runConfigAlias RunConfig
	return util.UnmarshalWithKind(data, (*runConfigAlias)(c), KindRunConfig)
}

// Read parses a run document and applies defaults.
func Read(data []byte) (*RunConfig, error) {
	cfg := &RunConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.TypeMeta.Validate(KindRunConfig); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	if cfg.Config.ControlHz <= 0 {
		cfg.Config.ControlHz = defaultControlHz
	}
	if cfg.Config.RunDir == "" {
		cfg.Config.RunDir = defaultRunDir
	}

	return cfg, nil
}

// FromFile loads a run document from a YAML file.
func FromFile(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config '%s': %w", path, err)
	}

	return Read(data)
}

// BuildTaskSpec converts the task section into the runtime task model,
// applying per-subtask defaults.
func (c *RunConfig) BuildTaskSpec() (*spec.TaskSpec, error) {
	if c.Config.Task.Name == "" {
		return nil, fmt.Errorf("task.name must be set")
	}
	if len(c.Config.Task.Subtasks) == 0 {
		return nil, fmt.Errorf("task.subtasks must not be empty")
	}

	task := &spec.TaskSpec{
		Name:     c.Config.Task.Name,
		Subtasks: make([]*spec.SubtaskSpec, 0, len(c.Config.Task.Subtasks)),
	}

	for i, sc := range c.Config.Task.Subtasks {
		if sc.Name == "" {
			return nil, fmt.Errorf("task.subtasks[%d].name must be set", i)
		}

		subtask := &spec.SubtaskSpec{
			Name:              sc.Name,
			Instruction:       sc.Instruction,
			SuccessCriteria:   sc.SuccessCriteria,
			Params:            sc.Params,
			MaxRetries:        defaultMaxRetries,
			MaxAttemptSeconds: defaultMaxAttemptSeconds,
		}
		if subtask.Params == nil {
			subtask.Params = map[string]any{}
		}
		if sc.MaxRetries != nil {
			if *sc.MaxRetries < 0 {
				return nil, fmt.Errorf("task.subtasks[%d].maxRetries must not be negative", i)
			}
			subtask.MaxRetries = *sc.MaxRetries
		}
		if sc.MaxAttemptSeconds != nil {
			if *sc.MaxAttemptSeconds <= 0 {
				return nil, fmt.Errorf("task.subtasks[%d].maxAttemptSeconds must be positive", i)
			}
			subtask.MaxAttemptSeconds = *sc.MaxAttemptSeconds
		}

		task.Subtasks = append(task.Subtasks, subtask)
	}

	return task, nil
}

// BuildAgent constructs the configured decision agent. Unsupported types and
// missing credentials are configuration errors.
func (c *RunConfig) BuildAgent() (agent.TaskAgent, error) {
	agentType := c.Config.Agent.Type
	if agentType == "" {
		agentType = AgentTypeRuleBased
	}

	switch agentType {
	case AgentTypeRuleBased:
		return agent.NewRuleBased(), nil

	case AgentTypeOpenAIReAct:
		creds := c.Config.Agent.Env.Resolve()
		if c.Config.Agent.Model != "" {
			creds.Model = c.Config.Agent.Model
		}
		if creds.APIKey == "" {
			return nil, fmt.Errorf("an API key is required for the %s agent (set agent.env.apiKeyKey or OPENAI_API_KEY)", AgentTypeOpenAIReAct)
		}
		if creds.Model == "" {
			return nil, fmt.Errorf("a model is required for the %s agent (set agent.model or agent.env.modelNameKey)", AgentTypeOpenAIReAct)
		}
		return agent.NewOpenAIReAct(creds.BaseURL, creds.APIKey, creds.Model, timeoutDuration(c.Config.Agent.TimeoutSeconds))

	default:
		return nil, fmt.Errorf("unsupported agent type: %s", agentType)
	}
}

// BuildVerifier constructs the configured verifier. Unsupported types and
// missing credentials are configuration errors.
func (c *RunConfig) BuildVerifier() (verifier.Verifier, error) {
	verifierType := c.Config.Verifier.Type
	if verifierType == "" {
		verifierType = VerifierTypeStub
	}

	switch verifierType {
	case VerifierTypeStub:
		margin := verifier.DefaultCrossingMarginPx
		if c.Config.Verifier.CrossingMarginPx != nil {
			margin = *c.Config.Verifier.CrossingMarginPx
		}
		return verifier.NewStub(margin), nil

	case VerifierTypeOpenAIVision:
		creds := c.Config.Verifier.Env.Resolve()
		if c.Config.Verifier.Model != "" {
			creds.Model = c.Config.Verifier.Model
		}
		if creds.APIKey == "" {
			return nil, fmt.Errorf("an API key is required for the %s verifier (set verifier.env.apiKeyKey or OPENAI_API_KEY)", VerifierTypeOpenAIVision)
		}
		if creds.Model == "" {
			return nil, fmt.Errorf("a model is required for the %s verifier (set verifier.model or verifier.env.modelNameKey)", VerifierTypeOpenAIVision)
		}
		return verifier.NewOpenAIVision(creds.BaseURL, creds.APIKey, creds.Model, timeoutDuration(c.Config.Verifier.TimeoutSeconds))

	default:
		return nil, fmt.Errorf("unsupported verifier type: %s", verifierType)
	}
}

func timeoutDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}
