// Package orchestrator runs a task as an ordered sequence of subtasks, each
// subtask as a bounded sequence of decide→execute→verify attempts, applying
// jittered parameter adjustments between failed attempts.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/roboloop/roboloop/pkg/agent"
	"github.com/roboloop/roboloop/pkg/env"
	"github.com/roboloop/roboloop/pkg/motion"
	"github.com/roboloop/roboloop/pkg/runlog"
	"github.com/roboloop/roboloop/pkg/spec"
	"github.com/roboloop/roboloop/pkg/util"
	"github.com/roboloop/roboloop/pkg/verifier"
)

// Jitter bounds: multiplicative factors sampled per retry, and the safe
// operating ranges the jittered values are clamped to.
const (
	speedJitterLow  = 0.95
	speedJitterHigh = 1.05
	minSafeSpeed    = 0.05
	maxSafeSpeed    = 1.2

	durationJitterLow  = 0.92
	durationJitterHigh = 1.08
	minSafeDuration    = 0.1
	maxSafeDuration    = 0.8
)

// AttemptLogger persists completed attempts and reports where the run's
// artifacts live.
type AttemptLogger interface {
	SaveAttempt(in *runlog.AttemptLog) (*runlog.SavedAttempt, error)
	RunDir() string
	StepsPath() string
}

// Options wires the orchestrator's collaborators. Env, Verifier and Logger
// are required; Agent defaults to the rule-based agent, ControlHz to 50.
type Options struct {
	Env       env.Env
	Verifier  verifier.Verifier
	Logger    AttemptLogger
	Agent     agent.TaskAgent
	ControlHz int
	Rand      *rand.Rand
	Log       *logrus.Logger
}

type Orchestrator struct {
	env       env.Env
	verifier  verifier.Verifier
	logger    AttemptLogger
	agent     agent.TaskAgent
	controlHz int
	rng       *rand.Rand
	log       *logrus.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Env == nil {
		return nil, fmt.Errorf("an environment must be provided")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("a verifier must be provided")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("an attempt logger must be provided")
	}
	if opts.Agent == nil {
		opts.Agent = agent.NewRuleBased()
	}
	if opts.ControlHz <= 0 {
		opts.ControlHz = 50
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	return &Orchestrator{
		env:       opts.Env,
		verifier:  opts.Verifier,
		logger:    opts.Logger,
		agent:     opts.Agent,
		controlHz: opts.ControlHz,
		rng:       opts.Rand,
		log:       opts.Log,
	}, nil
}

// RunTask resets the environment once and runs the task's subtasks in
// declared order. The first subtask whose final status is not success marks
// the episode failed and stops the run; subsequent subtasks are never
// attempted. Agent and executor errors propagate unmodified.
func (o *Orchestrator) RunTask(ctx context.Context, task *spec.TaskSpec) (*spec.EpisodeResult, error) {
	o.log.WithField("task", task.Name).Info("starting task")

	episode := &spec.EpisodeResult{
		TaskName: task.Name,
		Subtasks: make([]*spec.SubtaskResult, 0, len(task.Subtasks)),
		RunDir:   o.logger.RunDir(),
		StepsLog: o.logger.StepsPath(),
		Status:   spec.StatusSuccess,
	}

	o.env.Reset()
	o.log.Info("environment reset complete")

	for idx, subtask := range task.Subtasks {
		o.log.WithFields(logrus.Fields{
			"subtask":  subtask.Name,
			"position": fmt.Sprintf("%d/%d", idx+1, len(task.Subtasks)),
		}).Info("running subtask")

		result, err := o.runSubtask(ctx, task.Name, subtask)
		if err != nil {
			return nil, err
		}

		episode.Subtasks = append(episode.Subtasks, result)
		if result.FinalStatus != spec.StatusSuccess {
			episode.Status = spec.StatusFail
			o.log.WithField("subtask", subtask.Name).Warn("subtask failed, stopping task")
			break
		}
	}

	o.log.WithFields(logrus.Fields{
		"task":   task.Name,
		"status": episode.Status,
	}).Info("task finished")

	return episode, nil
}

// runSubtask runs the attempt loop for one subtask with an attempt budget of
// 1 + maxRetries. Only verifier-classified failure triggers the
// adjustment-and-retry path; everything else propagates.
func (o *Orchestrator) runSubtask(ctx context.Context, taskName string, subtask *spec.SubtaskSpec) (*spec.SubtaskResult, error) {
	result := &spec.SubtaskResult{
		SubtaskName:     subtask.Name,
		Instruction:     subtask.Instruction,
		SuccessCriteria: subtask.SuccessCriteria,
		Attempts:        []*spec.AttemptRecord{},
		FinalStatus:     spec.StatusFail,
	}

	maxAttempts := 1 + subtask.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attemptIdx := 0; attemptIdx < maxAttempts; attemptIdx++ {
		startedAt := time.Now().UTC()
		framesBefore := o.env.RecentFrames(1)
		obsBefore := o.env.Observe()

		decision, err := o.agent.Decide(ctx, subtask, attemptIdx, result.Attempts)
		if err != nil {
			return nil, fmt.Errorf("agent decision failed for subtask '%s': %w", subtask.Name, err)
		}

		o.log.WithFields(logrus.Fields{
			"subtask": subtask.Name,
			"attempt": fmt.Sprintf("%d/%d", attemptIdx+1, maxAttempts),
			"action":  decision.Action,
		}).Info("executing attempt")

		report, err := o.executeSubtask(ctx, subtask, decision.Action)
		if err != nil {
			return nil, err
		}
		report.AgentAction = decision.Action
		report.AgentReason = decision.Reason

		obsAfter := o.env.Observe()
		framesAfter := o.env.RecentFrames(1)

		verifyResult, err := o.verifier.Verify(ctx, framesBefore, framesAfter, subtask, obsBefore, obsAfter)
		if err != nil {
			return nil, fmt.Errorf("verification failed for subtask '%s': %w", subtask.Name, err)
		}
		finishedAt := time.Now().UTC()

		if util.IsVerbose(ctx) {
			o.log.WithFields(logrus.Fields{
				"subtask":    subtask.Name,
				"attempt":    attemptIdx + 1,
				"steps":      report.Steps,
				"terminated": report.TerminatedReason,
				"status":     verifyResult.Status,
				"confidence": verifyResult.Confidence,
				"notes":      verifyResult.Notes,
			}).Info("attempt verified")
		}

		saved, err := o.logger.SaveAttempt(&runlog.AttemptLog{
			TaskName:        taskName,
			Subtask:         subtask,
			AttemptIndex:    attemptIdx,
			FramesBefore:    framesBefore,
			FramesAfter:     framesAfter,
			ExecutionReport: report,
			VerifyResult:    verifyResult,
			StartedAt:       startedAt,
			FinishedAt:      finishedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to persist attempt for subtask '%s': %w", subtask.Name, err)
		}

		result.Attempts = append(result.Attempts, &spec.AttemptRecord{
			AttemptIndex:    attemptIdx,
			StartedAt:       startedAt,
			FinishedAt:      finishedAt,
			Params:          snapshotParams(subtask.Params),
			AgentAction:     decision.Action,
			AgentReason:     decision.Reason,
			ExecutionReport: report,
			Verify:          verifyResult,
			ArtifactPaths:   saved.ImagePaths,
		})

		if verifyResult.Status == spec.StatusSuccess {
			result.FinalStatus = spec.StatusSuccess
			o.log.WithFields(logrus.Fields{
				"subtask": subtask.Name,
				"attempt": attemptIdx + 1,
			}).Info("subtask succeeded")
			break
		}

		if verifyResult.Adjustment != nil {
			o.applyAdjustmentWithJitter(subtask, verifyResult.Adjustment)
			o.log.WithFields(logrus.Fields{
				"subtask": subtask.Name,
				"status":  verifyResult.Status,
			}).Info("subtask not complete, retrying with adjustment")
		}
	}

	return result, nil
}

// executeSubtask maps the agent's action onto a motion target and dispatches
// to the motion executor. Unsupported actions and subtask names are fatal:
// only motion subtasks are currently supported.
func (o *Orchestrator) executeSubtask(ctx context.Context, subtask *spec.SubtaskSpec, action string) (*spec.ExecutionReport, error) {
	params := snapshotParams(subtask.Params)
	switch action {
	case agent.ActionMoveLeft:
		params[spec.ParamTarget] = "left"
	case agent.ActionMoveRight:
		params[spec.ParamTarget] = "right"
	default:
		return nil, fmt.Errorf("unsupported agent action: %s", action)
	}

	if !isMotionSubtask(subtask.Name) {
		return nil, fmt.Errorf("unsupported subtask name: %s", subtask.Name)
	}

	if subtask.MaxAttemptSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(subtask.MaxAttemptSeconds*float64(time.Second)))
		defer cancel()
	}

	return motion.ExecuteChunk(ctx, o.env, subtask.Name, params, o.controlHz)
}

// isMotionSubtask reports whether the subtask name carries a recognized
// motion verb and a direction token.
func isMotionSubtask(name string) bool {
	hasVerb := strings.Contains(name, "move") || strings.Contains(name, "cross")
	hasDirection := strings.Contains(name, "left") || strings.Contains(name, "right")
	return hasVerb && hasDirection
}

// applyAdjustmentWithJitter merges a verifier-proposed adjustment into the
// subtask's parameters, scaling the known tunables by a small random factor
// and clamping them to their safe ranges so repeated failures can never push
// parameters out of bounds. This is the only place subtask parameters mutate
// after construction.
func (o *Orchestrator) applyAdjustmentWithJitter(subtask *spec.SubtaskSpec, adjustment map[string]any) {
	updated := make(map[string]any, len(adjustment))
	for k, v := range adjustment {
		updated[k] = v
	}

	if speed, ok := asFloat(updated[spec.ParamSpeed]); ok {
		jittered := speed * o.uniform(speedJitterLow, speedJitterHigh)
		updated[spec.ParamSpeed] = clamp(jittered, minSafeSpeed, maxSafeSpeed)
	}
	if duration, ok := asFloat(updated[spec.ParamChunkDuration]); ok {
		jittered := duration * o.uniform(durationJitterLow, durationJitterHigh)
		updated[spec.ParamChunkDuration] = clamp(jittered, minSafeDuration, maxSafeDuration)
	}

	if subtask.Params == nil {
		subtask.Params = make(map[string]any, len(updated))
	}
	for k, v := range updated {
		subtask.Params[k] = v
	}
}

func (o *Orchestrator) uniform(low, high float64) float64 {
	return low + o.rng.Float64()*(high-low)
}

func clamp(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func snapshotParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
