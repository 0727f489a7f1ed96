// Package spec holds the data model shared by the control loop: task and
// subtask specifications, verification results, and the per-attempt and
// per-episode records assembled by the orchestrator.
package spec

import (
	"encoding/json"
	"time"
)

const (
	StatusSuccess   = "success"
	StatusFail      = "fail"
	StatusUncertain = "uncertain"
)

// Well-known parameter keys. Subtask params are free-form, but these are the
// keys the motion executor and the adjustment step understand.
const (
	ParamTarget        = "target"
	ParamSpeed         = "speed"
	ParamChunkDuration = "chunk_duration_s"
)

// SubtaskSpec describes one atomic, retryable unit of robot motion.
// Params is mutated in place between attempts by the orchestrator's
// adjustment step; nothing else writes to it.
type SubtaskSpec struct {
	Name              string         `json:"name"`
	Instruction       string         `json:"instruction"`
	SuccessCriteria   string         `json:"successCriteria"`
	Params            map[string]any `json:"params"`
	MaxRetries        int            `json:"maxRetries"`
	MaxAttemptSeconds float64        `json:"maxAttemptSeconds"`
}

// TaskSpec is an ordered list of subtasks. Order is significant: later
// subtasks assume earlier ones completed.
type TaskSpec struct {
	Name     string         `json:"name"`
	Subtasks []*SubtaskSpec `json:"subtasks"`
}

// VerifyResult is the structured outcome of one verification check.
type VerifyResult struct {
	Status      string         `json:"status"`
	Confidence  float64        `json:"confidence"`
	FailureMode string         `json:"failureMode,omitempty"`
	Adjustment  map[string]any `json:"adjustment,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

// Decision is the agent's chosen tool action for one attempt.
type Decision struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Telemetry is the per-step trace recorded by the motion executor,
// append-only, one entry per completed step.
type Telemetry struct {
	ArmPos []float64 `json:"armPos"`
	TimeS  []float64 `json:"timeS"`
}

// ExecutionReport is the motion executor's account of one chunk.
type ExecutionReport struct {
	Steps            int       `json:"steps"`
	TerminatedReason string    `json:"terminatedReason"`
	Telemetry        Telemetry `json:"telemetry"`
	Direction        string    `json:"direction"`
	CommandedDX      float64   `json:"commandedDx"`
	AgentAction      string    `json:"agentAction,omitempty"`
	AgentReason      string    `json:"agentReason,omitempty"`
}

// ArtifactPaths points at the saved before/after images for one attempt.
type ArtifactPaths struct {
	Before []string `json:"before"`
	After  []string `json:"after"`
}

// AttemptRecord captures one full decide→execute→verify cycle. Records are
// appended to the subtask's attempt list and never mutated after append.
type AttemptRecord struct {
	AttemptIndex    int              `json:"attemptIndex"`
	StartedAt       time.Time        `json:"startedAt"`
	FinishedAt      time.Time        `json:"finishedAt"`
	Params          map[string]any   `json:"params"`
	AgentAction     string           `json:"agentAction"`
	AgentReason     string           `json:"agentReason"`
	ExecutionReport *ExecutionReport `json:"executionReport"`
	Verify          *VerifyResult    `json:"verify"`
	ArtifactPaths   ArtifactPaths    `json:"artifactPaths"`
}

// SubtaskResult is the outcome of one subtask's attempt loop.
type SubtaskResult struct {
	SubtaskName     string           `json:"subtaskName"`
	Instruction     string           `json:"instruction"`
	SuccessCriteria string           `json:"successCriteria"`
	Attempts        []*AttemptRecord `json:"attempts"`
	FinalStatus     string           `json:"finalStatus"`
}

// EpisodeResult is the full structured outcome of one RunTask invocation.
// Status is "success" iff every subtask's final status is success.
type EpisodeResult struct {
	TaskName string           `json:"taskName"`
	Subtasks []*SubtaskResult `json:"subtasks"`
	RunDir   string           `json:"runDir"`
	StepsLog string           `json:"stepsLog"`
	Status   string           `json:"status"`
}

// ToDict projects any record (or list of records) into a plain key/value
// mapping suitable for structured logging, recursively handling nested
// records. Unsupported input shapes surface as an error.
func ToDict(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// ToJSON serializes a record to JSON, optionally indented.
func ToJSON(v any, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(v, "", "  ")
	}

	return json.Marshal(v)
}
