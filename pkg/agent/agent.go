// Package agent selects one motion tool action per attempt of the control
// loop. Agents only read subtask fields and the attempt history; they never
// mutate them.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/roboloop/roboloop/pkg/spec"
)

// The closed vocabulary of motion primitives an agent may choose from.
const (
	ActionMoveLeft  = "move_left"
	ActionMoveRight = "move_right"
)

// AllowedActions lists the closed action vocabulary in a stable order.
var AllowedActions = []string{ActionMoveLeft, ActionMoveRight}

// TaskAgent chooses one discrete tool action per attempt given the subtask
// and the ordered history of this subtask's prior attempts (empty on the
// first attempt).
type TaskAgent interface {
	Decide(ctx context.Context, subtask *spec.SubtaskSpec, attemptIndex int, previousAttempts []*spec.AttemptRecord) (*spec.Decision, error)
}

// IsAllowedAction reports whether action is in the closed vocabulary.
func IsAllowedAction(action string) bool {
	for _, a := range AllowedActions {
		if action == a {
			return true
		}
	}
	return false
}

// ValidateDecision checks a decision against the closed action vocabulary,
// normalizing the action and defaulting an empty reason.
func ValidateDecision(d *spec.Decision) (*spec.Decision, error) {
	action := strings.ToLower(strings.TrimSpace(d.Action))
	if !IsAllowedAction(action) {
		return nil, fmt.Errorf("invalid decision action %q: must be one of %s", d.Action, strings.Join(AllowedActions, ", "))
	}

	reason := strings.TrimSpace(d.Reason)
	if reason == "" {
		reason = "No reason provided"
	}

	return &spec.Decision{Action: action, Reason: reason}, nil
}

// RuleBased is the deterministic agent: it reads the subtask's target
// parameter and defaults to move_right when no target is present. It is pure
// and side-effect-free; the same inputs always yield the same action.
type RuleBased struct{}

var _ TaskAgent = RuleBased{}

func NewRuleBased() RuleBased {
	return RuleBased{}
}

func (RuleBased) Decide(_ context.Context, subtask *spec.SubtaskSpec, _ int, _ []*spec.AttemptRecord) (*spec.Decision, error) {
	target, _ := subtask.Params[spec.ParamTarget].(string)
	if strings.ToLower(target) == "left" {
		return &spec.Decision{Action: ActionMoveLeft, Reason: "Using target=left from subtask params"}, nil
	}
	return &spec.Decision{Action: ActionMoveRight, Reason: "Using target=right from subtask params"}, nil
}
