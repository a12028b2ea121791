package model

import "time"

// JobPhase is the lifecycle position of a send job
type JobPhase string

const (
	JobPhaseIdle      JobPhase = "idle"
	JobPhaseRunning   JobPhase = "running"
	JobPhaseCompleted JobPhase = "completed"
	JobPhaseStopped   JobPhase = "stopped"
	JobPhaseErrored   JobPhase = "errored"
)

// Terminal reports whether the phase ends a run
func (p JobPhase) Terminal() bool {
	switch p {
	case JobPhaseCompleted, JobPhaseStopped, JobPhaseErrored:
		return true
	}
	return false
}

// Status messages shown to operators
const (
	StatusIdle       = "Idle"
	StatusStarting   = "Starting..."
	StatusConnecting = "Connecting to SMTP server..."
	StatusStopped    = "Stopped by user"
	StatusComplete   = "Complete"
	StatusReset      = "Reset - Ready"
)

// JobState is a snapshot of the single send job
type JobState struct {
	JobID         string     `json:"jobId,omitempty"`
	Running       bool       `json:"running"`
	StopRequested bool       `json:"stopRequested"`
	Phase         JobPhase   `json:"phase"`
	Total         int        `json:"total"`
	Current       int        `json:"current"`
	Sent          int        `json:"sent"`
	Failed        int        `json:"failed"`
	CurrentEmail  string     `json:"currentEmail"`
	StatusMessage string     `json:"statusMessage"`
	Sender        string     `json:"sender,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
}

// IdleJobState is the state at process start
func IdleJobState() JobState {
	return JobState{
		Phase:         JobPhaseIdle,
		StatusMessage: StatusIdle,
	}
}
