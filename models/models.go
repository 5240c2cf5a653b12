package models

import "time"

type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Terminal indica se o estado é final (completed ou failed).
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ScanRequest é o que o webhook (ou o endpoint manual) pede para escanear.
type ScanRequest struct {
	RepoURL        string `json:"repo_url" binding:"required,url"`
	Branch         string `json:"branch"`
	Commit         string `json:"commit,omitempty"`
	InstallationID int64  `json:"installation_id,omitempty"`
}

type Job struct {
	ID             string     `json:"id"`
	RepoURL        string     `json:"repo_url"`
	Branch         string     `json:"branch"`
	Commit         string     `json:"commit,omitempty"`
	InstallationID int64      `json:"installation_id,omitempty"`
	State          JobState   `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Result         *JobResult `json:"result,omitempty"`
}

// Error types gravados em JobResult.ErrorType.
const (
	ErrorTypeCredential = "credential"
	ErrorTypeClone      = "clone"
	ErrorTypeToolLaunch = "tool_launch"
	ErrorTypeTimeout    = "timeout"
	ErrorTypeException  = "exception"
	ErrorTypeAbandoned  = "abandoned"
)

// ToolRun guarda o resultado bruto de uma ferramenta (sem o stdout).
type ToolRun struct {
	ExitCode   int    `json:"exit_code"`
	Stderr     string `json:"stderr,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// JobResult é o documento terminal persistido para cada job.
type JobResult struct {
	JobID     string             `json:"job_id"`
	State     JobState           `json:"state"`
	Repo      string             `json:"repo"`
	Branch    string             `json:"branch"`
	Commit    string             `json:"commit,omitempty"`
	ScanTime  time.Time          `json:"scan_time"`
	ErrorType string             `json:"error_type,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	Stderr    string             `json:"stderr,omitempty"`
	Tools     map[string]ToolRun `json:"tools,omitempty"`
	Findings  []Finding          `json:"findings"`
	Counts    Counts             `json:"counts"`
	Analysis  *AnalysisResult    `json:"analysis,omitempty"`
}
