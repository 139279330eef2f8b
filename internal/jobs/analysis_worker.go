package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/evidentops/storypack/internal/domain"
	"github.com/evidentops/storypack/internal/service"
)

const (
	// MaxRetries is the maximum number of retries for a failed job
	MaxRetries = 3
)

// AnalysisJobRepository defines the interface for analysis job persistence
type AnalysisJobRepository interface {
	// ClaimPending retrieves and claims pending analysis jobs
	ClaimPending(ctx context.Context, limit int) ([]*domain.AnalysisJob, error)

	// UpdateStatus updates the status of an analysis job
	UpdateStatus(ctx context.Context, jobID string, status domain.AnalysisJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// Embedder backfills chunk embeddings for a source.
type Embedder interface {
	EmbedSource(ctx context.Context, sourceID string) (*service.EmbedOutcome, error)
}

// Classifier runs chunk classification for a source.
type Classifier interface {
	ClassifySource(ctx context.Context, sourceID string) (*service.ClassifyOutcome, error)
}

// ConflictDetector runs contradiction detection for a project.
type ConflictDetector interface {
	DetectProject(ctx context.Context, projectID, projectContext string) (*service.DetectOutcome, error)
}

// AnalysisWorker processes analysis jobs. Every stage it invokes is
// idempotent, so a job delivered twice does no harm.
type AnalysisWorker struct {
	repo       AnalysisJobRepository
	embedder   Embedder
	classifier Classifier
	detector   ConflictDetector
}

// NewAnalysisWorker creates a new AnalysisWorker instance
func NewAnalysisWorker(repo AnalysisJobRepository, embedder Embedder, classifier Classifier, detector ConflictDetector) *AnalysisWorker {
	return &AnalysisWorker{
		repo:       repo,
		embedder:   embedder,
		classifier: classifier,
		detector:   detector,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *AnalysisWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, 100)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending analysis jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *AnalysisWorker) processJob(ctx context.Context, job *domain.AnalysisJob) error {
	var err error
	switch job.Kind {
	case domain.AnalysisJobKindEmbedSource:
		log.Printf("Processing job %s: embed source %s", job.ID, job.SourceID)
		_, err = w.embedder.EmbedSource(ctx, job.SourceID)
	case domain.AnalysisJobKindClassifyChunks:
		log.Printf("Processing job %s: classify source %s", job.ID, job.SourceID)
		_, err = w.classifier.ClassifySource(ctx, job.SourceID)
	case domain.AnalysisJobKindDetectConflicts:
		log.Printf("Processing job %s: detect conflicts in project %s", job.ID, job.ProjectID)
		_, err = w.detector.DetectProject(ctx, job.ProjectID, "")
	default:
		return fmt.Errorf("job %s has unknown kind %q", job.ID, job.Kind)
	}

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.AnalysisJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *AnalysisWorker) handleJobFailure(ctx context.Context, job *domain.AnalysisJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		log.Printf("Job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.AnalysisJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.AnalysisJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
