// Package runlog persists per-attempt artifacts: before/after frames as PNG
// images and a JSONL step log with summarized execution reports.
package runlog

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roboloop/roboloop/pkg/spec"
)

// AttemptLog is the full context of one completed attempt handed to the
// logger by the orchestrator.
type AttemptLog struct {
	TaskName        string
	Subtask         *spec.SubtaskSpec
	AttemptIndex    int
	FramesBefore    []*image.RGBA
	FramesAfter     []*image.RGBA
	ExecutionReport *spec.ExecutionReport
	VerifyResult    *spec.VerifyResult
	StartedAt       time.Time
	FinishedAt      time.Time
}

// SavedAttempt is what the logger returns to the orchestrator: at least the
// artifact paths for the saved before/after images.
type SavedAttempt struct {
	ImagePaths spec.ArtifactPaths
}

// stepRecord is one line of the steps.jsonl log.
type stepRecord struct {
	TimestampStart  string             `json:"timestampStart"`
	TimestampEnd    string             `json:"timestampEnd"`
	TaskName        string             `json:"taskName"`
	SubtaskName     string             `json:"subtaskName"`
	Instruction     string             `json:"instruction"`
	SuccessCriteria string             `json:"successCriteria"`
	AttemptIndex    int                `json:"attemptIndex"`
	Params          map[string]any     `json:"params"`
	ExecutionReport *executionSummary  `json:"executionReport"`
	VerifyResult    *spec.VerifyResult `json:"verifyResult"`
	ImagePaths      spec.ArtifactPaths `json:"imagePaths"`
}

// executionSummary condenses the full telemetry into log-friendly bounds.
type executionSummary struct {
	Steps            int      `json:"steps"`
	TerminatedReason string   `json:"terminatedReason"`
	AgentAction      string   `json:"agentAction,omitempty"`
	AgentReason      string   `json:"agentReason,omitempty"`
	ArmPosMin        *float64 `json:"armPosMin"`
	ArmPosMax        *float64 `json:"armPosMax"`
	TimeStartS       *float64 `json:"timeStartS"`
	TimeEndS         *float64 `json:"timeEndS"`
}

// RunLogger writes all artifacts of one run under a dedicated directory.
type RunLogger struct {
	runDir    string
	imagesDir string
	stepsPath string
	log       *logrus.Logger
}

// New creates the run directory (<baseDir>/<utc-timestamp>-<id>) and its
// images subdirectory.
func New(baseDir string, log *logrus.Logger) (*RunLogger, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	runID := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102_150405"), uuid.NewString()[:8])
	runDir := filepath.Join(baseDir, runID)
	imagesDir := filepath.Join(runDir, "images")

	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	return &RunLogger{
		runDir:    runDir,
		imagesDir: imagesDir,
		stepsPath: filepath.Join(runDir, "steps.jsonl"),
		log:       log,
	}, nil
}

func (l *RunLogger) RunDir() string {
	return l.runDir
}

func (l *RunLogger) StepsPath() string {
	return l.stepsPath
}

// SaveAttempt persists the attempt's before/after frames and appends a step
// record to the JSONL log, returning the saved artifact paths.
func (l *RunLogger) SaveAttempt(in *AttemptLog) (*SavedAttempt, error) {
	var beforePath, afterPath string
	var g errgroup.Group

	g.Go(func() error {
		var err error
		beforePath, err = l.saveFrame(lastFrame(in.FramesBefore), in.Subtask.Name, in.AttemptIndex, "a")
		return err
	})
	g.Go(func() error {
		var err error
		afterPath, err = l.saveFrame(lastFrame(in.FramesAfter), in.Subtask.Name, in.AttemptIndex, "b")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to save attempt frames: %w", err)
	}

	paths := spec.ArtifactPaths{Before: []string{}, After: []string{}}
	if beforePath != "" {
		paths.Before = append(paths.Before, beforePath)
	}
	if afterPath != "" {
		paths.After = append(paths.After, afterPath)
	}

	record := &stepRecord{
		TimestampStart:  in.StartedAt.UTC().Format(time.RFC3339Nano),
		TimestampEnd:    in.FinishedAt.UTC().Format(time.RFC3339Nano),
		TaskName:        in.TaskName,
		SubtaskName:     in.Subtask.Name,
		Instruction:     in.Subtask.Instruction,
		SuccessCriteria: in.Subtask.SuccessCriteria,
		AttemptIndex:    in.AttemptIndex,
		Params:          cloneParams(in.Subtask.Params),
		ExecutionReport: summarizeExecution(in.ExecutionReport),
		VerifyResult:    in.VerifyResult,
		ImagePaths:      paths,
	}

	if err := l.appendJSONL(record); err != nil {
		return nil, err
	}

	l.log.WithFields(logrus.Fields{
		"task":    in.TaskName,
		"subtask": in.Subtask.Name,
		"attempt": in.AttemptIndex,
		"status":  in.VerifyResult.Status,
	}).Debug("saved attempt record")

	return &SavedAttempt{ImagePaths: paths}, nil
}

func (l *RunLogger) saveFrame(frame *image.RGBA, subtaskName string, attemptIndex int, label string) (string, error) {
	if frame == nil {
		return "", nil
	}

	subtaskDir := filepath.Join(l.imagesDir, subtaskName)
	if err := os.MkdirAll(subtaskDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create subtask image directory: %w", err)
	}

	path := filepath.Join(subtaskDir, fmt.Sprintf("attempt_%d_%s.png", attemptIndex, label))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, frame); err != nil {
		return "", fmt.Errorf("failed to encode frame: %w", err)
	}

	return path, nil
}

func (l *RunLogger) appendJSONL(record *stepRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode step record: %w", err)
	}

	f, err := os.OpenFile(l.stepsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open steps log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append steps log: %w", err)
	}

	return nil
}

func summarizeExecution(report *spec.ExecutionReport) *executionSummary {
	if report == nil {
		return nil
	}

	summary := &executionSummary{
		Steps:            report.Steps,
		TerminatedReason: report.TerminatedReason,
		AgentAction:      report.AgentAction,
		AgentReason:      report.AgentReason,
	}

	if positions := report.Telemetry.ArmPos; len(positions) > 0 {
		minPos, maxPos := positions[0], positions[0]
		for _, p := range positions[1:] {
			minPos = min(minPos, p)
			maxPos = max(maxPos, p)
		}
		summary.ArmPosMin = &minPos
		summary.ArmPosMax = &maxPos
	}

	if times := report.Telemetry.TimeS; len(times) > 0 {
		start, end := times[0], times[len(times)-1]
		summary.TimeStartS = &start
		summary.TimeEndS = &end
	}

	return summary
}

func lastFrame(frames []*image.RGBA) *image.RGBA {
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
