// Package env defines the simulated-environment contract consumed by the
// control loop, plus the mock line-crossing environment used for local runs
// and tests. Frames are fixed-size RGB rasters.
package env

import "image"

// Action is one low-level control command: a horizontal displacement rate.
type Action struct {
	DX float64 `json:"dx"`
}

// Observation is one snapshot of environment state. Frame is the rendered
// RGB raster at observation time.
type Observation struct {
	Frame      *image.RGBA `json:"-"`
	ArmPos     float64     `json:"armPos"`
	TimeS      float64     `json:"timeS"`
	LastAction Action      `json:"lastAction"`
}

// Env is the environment collaborator contract. The orchestrator owns the
// environment exclusively for the duration of a run: Reset is called exactly
// once per task, after which the motion executor drives Step on the
// orchestrator's behalf.
type Env interface {
	Reset() *Observation
	Step(action Action) *Observation
	Observe() *Observation
	// RecentFrames returns up to n of the most recent frames, most-recent-last.
	RecentFrames(n int) []*image.RGBA
	// SafetyCheck reports whether the current state is within operating limits.
	SafetyCheck() bool
	Close()
}
