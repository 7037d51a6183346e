package model

import "time"

// RunStatus is the lifecycle of one extraction attempt.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// GenerationParams records the model sampling parameters used for a run so
// that any extraction is reproducible from its run record.
type GenerationParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int64   `json:"max_tokens"`
}

// RunStats aggregates the outcome of a completed run.
type RunStats struct {
	CandidateCount int     `json:"candidate_count"`
	AmbiguousCount int     `json:"ambiguous_count"`
	AvgConfidence  float64 `json:"avg_confidence"`
}

// ExtractionRun is one attempt to extract candidates from a specific version.
// Runs are append-only; a failed run never mutates prior runs. At most one
// run per version is active at a time.
type ExtractionRun struct {
	ID               string           `json:"id"`
	RfpID            string           `json:"rfp_id"`
	VersionID        string           `json:"version_id"`
	ModelName        string           `json:"model_name"`
	ModelVersion     string           `json:"model_version"`
	PromptVersion    string           `json:"prompt_version"`
	SchemaVersion    string           `json:"schema_version"`
	Params           GenerationParams `json:"generation_params"`
	Status           RunStatus        `json:"status"`
	IsActive         bool             `json:"is_active"`
	Stats            *RunStats        `json:"stats,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	FailureReasonDev string           `json:"failure_reason_dev,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}
