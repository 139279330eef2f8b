package domain

import (
	"fmt"
	"time"
)

// AnalysisJobKind identifies which pipeline stage a job invokes
type AnalysisJobKind string

const (
	AnalysisJobKindEmbedSource     AnalysisJobKind = "embed_source"
	AnalysisJobKindClassifyChunks  AnalysisJobKind = "classify_chunks"
	AnalysisJobKindDetectConflicts AnalysisJobKind = "detect_conflicts"
)

// AnalysisJobStatus represents the status of an analysis job
type AnalysisJobStatus string

const (
	AnalysisJobStatusPending    AnalysisJobStatus = "pending"
	AnalysisJobStatusProcessing AnalysisJobStatus = "processing"
	AnalysisJobStatusCompleted  AnalysisJobStatus = "completed"
	AnalysisJobStatusFailed     AnalysisJobStatus = "failed"
)

// AnalysisJob represents an async invocation of a pipeline stage.
// Stages are stateless; a job may be delivered more than once and the
// stage it invokes must tolerate re-application.
type AnalysisJob struct {
	ID          string
	Kind        AnalysisJobKind
	SourceID    string // Set for classify_chunks
	ProjectID   string // Set for detect_conflicts
	Status      AnalysisJobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ValidateAnalysisJob validates an AnalysisJob instance
func ValidateAnalysisJob(j *AnalysisJob) error {
	if j == nil {
		return fmt.Errorf("analysis job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("analysis job ID is required")
	}

	switch j.Kind {
	case AnalysisJobKindEmbedSource:
		if j.SourceID == "" {
			return fmt.Errorf("embed_source job requires SourceID")
		}
	case AnalysisJobKindClassifyChunks:
		if j.SourceID == "" {
			return fmt.Errorf("classify_chunks job requires SourceID")
		}
	case AnalysisJobKindDetectConflicts:
		if j.ProjectID == "" {
			return fmt.Errorf("detect_conflicts job requires ProjectID")
		}
	default:
		return fmt.Errorf("analysis job Kind is invalid: %s", j.Kind)
	}

	if !isValidAnalysisJobStatus(j.Status) {
		return fmt.Errorf("analysis job Status is invalid: %s", j.Status)
	}

	if j.Retries < 0 {
		return fmt.Errorf("analysis job Retries cannot be negative")
	}

	return nil
}

// isValidAnalysisJobStatus checks if an AnalysisJobStatus is valid
func isValidAnalysisJobStatus(s AnalysisJobStatus) bool {
	switch s {
	case AnalysisJobStatusPending, AnalysisJobStatusProcessing,
		AnalysisJobStatusCompleted, AnalysisJobStatusFailed:
		return true
	}
	return false
}
