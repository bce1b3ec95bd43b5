package model

import (
	"encoding/json"
	"strings"
)

// PipelineStatus represents the lifecycle state of a Pipeline definition.
// The integer values are part of the wire contract and must not be reordered;
// the lowercase string forms are the storage contract.
type PipelineStatus int

const (
	PipelineUnspecified PipelineStatus = iota
	PipelinePending
	PipelineRunning
	PipelineCompleted
	PipelineFailed
)

// String returns the canonical lowercase form of the status.
func (s PipelineStatus) String() string {
	switch s {
	case PipelinePending:
		return "pending"
	case PipelineRunning:
		return "running"
	case PipelineCompleted:
		return "completed"
	case PipelineFailed:
		return "failed"
	default:
		return "unspecified"
	}
}

// ParsePipelineStatus maps a string to a PipelineStatus.
// Unknown values map to PipelineUnspecified.
func ParsePipelineStatus(s string) PipelineStatus {
	switch strings.ToLower(s) {
	case "pending":
		return PipelinePending
	case "running":
		return PipelineRunning
	case "completed":
		return PipelineCompleted
	case "failed":
		return PipelineFailed
	default:
		return PipelineUnspecified
	}
}

// PipelineStatusFromInt maps a wire integer to a PipelineStatus.
// Out-of-range values map to PipelineUnspecified.
func PipelineStatusFromInt(v int) PipelineStatus {
	if v < int(PipelineUnspecified) || v > int(PipelineFailed) {
		return PipelineUnspecified
	}
	return PipelineStatus(v)
}

// Int returns the wire encoding.
func (s PipelineStatus) Int() int { return int(s) }

// IsTerminal reports whether the status ends a build run (completed or
// failed). The engine moves the pipeline back to running when its next build
// starts.
func (s PipelineStatus) IsTerminal() bool {
	return s == PipelineCompleted || s == PipelineFailed
}

// MarshalJSON encodes the status as its canonical string.
func (s PipelineStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status string, mapping unknown values to Unspecified.
func (s *PipelineStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParsePipelineStatus(str)
	return nil
}

// BuildStatus represents the lifecycle state of a Build.
type BuildStatus int

const (
	BuildUnspecified BuildStatus = iota
	BuildPending
	BuildRunning
	BuildSuccess
	BuildFailed
	BuildCancelled
	BuildTimedOut
)

// String returns the canonical lowercase form of the status.
func (s BuildStatus) String() string {
	switch s {
	case BuildPending:
		return "pending"
	case BuildRunning:
		return "running"
	case BuildSuccess:
		return "success"
	case BuildFailed:
		return "failed"
	case BuildCancelled:
		return "cancelled"
	case BuildTimedOut:
		return "timedout"
	default:
		return "unspecified"
	}
}

// ParseBuildStatus maps a string to a BuildStatus.
// Unknown values map to BuildUnspecified.
func ParseBuildStatus(s string) BuildStatus {
	switch strings.ToLower(s) {
	case "pending":
		return BuildPending
	case "running":
		return BuildRunning
	case "success":
		return BuildSuccess
	case "failed":
		return BuildFailed
	case "cancelled":
		return BuildCancelled
	case "timedout":
		return BuildTimedOut
	default:
		return BuildUnspecified
	}
}

// BuildStatusFromInt maps a wire integer to a BuildStatus.
func BuildStatusFromInt(v int) BuildStatus {
	if v < int(BuildUnspecified) || v > int(BuildTimedOut) {
		return BuildUnspecified
	}
	return BuildStatus(v)
}

// Int returns the wire encoding.
func (s BuildStatus) Int() int { return int(s) }

// IsTerminal reports whether no further transition is permitted.
func (s BuildStatus) IsTerminal() bool {
	switch s {
	case BuildSuccess, BuildFailed, BuildCancelled, BuildTimedOut:
		return true
	}
	return false
}

// ValidBuildTransitions defines the allowed state transitions for Builds.
// Terminal states have no successors.
var ValidBuildTransitions = map[BuildStatus][]BuildStatus{
	BuildPending: {BuildRunning, BuildCancelled, BuildFailed},
	BuildRunning: {BuildSuccess, BuildFailed, BuildCancelled, BuildTimedOut},
}

// CanTransitionTo reports whether moving to next is a valid transition.
func (s BuildStatus) CanTransitionTo(next BuildStatus) bool {
	for _, allowed := range ValidBuildTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the status as its canonical string.
func (s BuildStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status string, mapping unknown values to Unspecified.
func (s *BuildStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseBuildStatus(str)
	return nil
}

// StepStatus represents the lifecycle state of a Step within one Build.
type StepStatus int

const (
	StepUnspecified StepStatus = iota
	StepPending
	StepRunning
	StepSuccess
	StepFailed
	StepCancelled
	StepTimedOut
	StepSkipped
)

// String returns the canonical lowercase form of the status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepSuccess:
		return "success"
	case StepFailed:
		return "failed"
	case StepCancelled:
		return "cancelled"
	case StepTimedOut:
		return "timedout"
	case StepSkipped:
		return "skipped"
	default:
		return "unspecified"
	}
}

// ParseStepStatus maps a string to a StepStatus.
// Unknown values map to StepUnspecified.
func ParseStepStatus(s string) StepStatus {
	switch strings.ToLower(s) {
	case "pending":
		return StepPending
	case "running":
		return StepRunning
	case "success":
		return StepSuccess
	case "failed":
		return StepFailed
	case "cancelled":
		return StepCancelled
	case "timedout":
		return StepTimedOut
	case "skipped":
		return StepSkipped
	default:
		return StepUnspecified
	}
}

// StepStatusFromInt maps a wire integer to a StepStatus.
func StepStatusFromInt(v int) StepStatus {
	if v < int(StepUnspecified) || v > int(StepSkipped) {
		return StepUnspecified
	}
	return StepStatus(v)
}

// Int returns the wire encoding.
func (s StepStatus) Int() int { return int(s) }

// IsTerminal reports whether no further transition is permitted.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepCancelled, StepTimedOut, StepSkipped:
		return true
	}
	return false
}

// ValidStepTransitions defines the allowed state transitions for Steps.
var ValidStepTransitions = map[StepStatus][]StepStatus{
	StepPending: {StepRunning, StepSkipped, StepCancelled},
	StepRunning: {StepSuccess, StepFailed, StepCancelled, StepTimedOut},
}

// CanTransitionTo reports whether moving to next is a valid transition.
func (s StepStatus) CanTransitionTo(next StepStatus) bool {
	for _, allowed := range ValidStepTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the status as its canonical string.
func (s StepStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status string, mapping unknown values to Unspecified.
func (s *StepStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseStepStatus(str)
	return nil
}
