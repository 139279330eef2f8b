package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor runs one drain pass over the queued analysis jobs.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives the analysis pipeline on a fixed poll interval. A failed
// pass is logged and the next tick tries again; jobs carry their own retry
// state.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

// NewWorker creates a new Worker instance
func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start polls until the context is cancelled or Stop is called. The first
// pass runs immediately so jobs queued before startup don't wait out a full
// interval.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("analysis worker: polling every %v", w.pollInterval)

	w.runPass(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("analysis worker: context cancelled")
			return
		case <-w.stopChan:
			log.Println("analysis worker: stop requested")
			return
		case <-ticker.C:
			w.runPass(ctx)
		}
	}
}

func (w *Worker) runPass(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		log.Printf("analysis worker: pass failed: %v", err)
	}
}

// Stop signals the loop and blocks until the in-flight pass finishes.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	log.Println("analysis worker: drained")
}
