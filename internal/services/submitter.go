package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krittin/examscan/internal/analysis"
	"github.com/krittin/examscan/internal/clock"
	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/eventbus"
	"github.com/krittin/examscan/internal/logger"
	"github.com/krittin/examscan/internal/storage"
	"github.com/krittin/examscan/internal/store"
)

// pendingJob holds the in-flight state of one scan job. The once gate
// makes the completion publish exclusive between the worker and the
// watchdog: whichever finishes first wins, the other becomes a no-op.
type pendingJob struct {
	once  sync.Once
	timer clock.Timer
}

// Submitter runs scan jobs: it publishes the started signal, analyzes
// the images in a detached goroutine, persists the results, and
// publishes exactly one completion signal per job. A watchdog bounds
// how long a job may stay in flight.
type Submitter struct {
	bus      eventbus.Publisher
	store    *store.Store
	analyzer analysis.Analyzer
	uploads  *storage.Uploads
	clock    clock.Clock
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingJob
}

func NewSubmitter(bus eventbus.Publisher, st *store.Store, analyzer analysis.Analyzer, uploads *storage.Uploads, clk clock.Clock, timeout time.Duration) *Submitter {
	return &Submitter{
		bus:      bus,
		store:    st,
		analyzer: analyzer,
		uploads:  uploads,
		clock:    clk,
		timeout:  timeout,
		pending:  make(map[string]*pendingJob),
	}
}

// Submit starts a scan job over the given image files and returns its
// id. The started signal is published before Submit returns; analysis
// and the completion signal follow asynchronously. The files are
// deleted when the job finishes, whichever way it finishes.
func (s *Submitter) Submit(userID string, filePaths []string) (string, error) {
	jobID := uuid.New().String()

	job := &pendingJob{}
	s.mu.Lock()
	s.pending[jobID] = job
	s.mu.Unlock()

	if err := s.bus.Publish(domain.NewJobStartedEvent(userID, jobID)); err != nil {
		s.mu.Lock()
		delete(s.pending, jobID)
		s.mu.Unlock()
		return "", err
	}

	job.timer = s.clock.AfterFunc(s.timeout, func() {
		logger.Warnf("Scan job %s exceeded %v, marking failed", jobID, s.timeout)
		s.finish(job, userID, jobID, filePaths, nil, "scan timed out")
	})

	go s.run(job, userID, jobID, filePaths)

	logger.Infof("Scan job %s submitted for user %s (%d image(s))", jobID, userID, len(filePaths))
	return jobID, nil
}

func (s *Submitter) run(job *pendingJob, userID, jobID string, filePaths []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.bus.Publish(domain.NewJobProgressEvent(userID, jobID, "analyzing")); err != nil {
		logger.Errorf("Failed to publish progress for job %s: %v", jobID, err)
	}

	results, err := s.analyzer.Analyze(ctx, filePaths, userID)
	if err != nil {
		logger.Errorf("Analysis failed for job %s: %v", jobID, err)
		s.finish(job, userID, jobID, filePaths, nil, "failed to analyze the uploaded sheets")
		return
	}

	if err := s.bus.Publish(domain.NewJobProgressEvent(userID, jobID, "persisting")); err != nil {
		logger.Errorf("Failed to publish progress for job %s: %v", jobID, err)
	}

	for i := range results {
		results[i].JobID = jobID
		if err := s.store.Create(store.ScannedAnswers, results[i].ID, results[i]); err != nil {
			logger.Errorf("Failed to persist result %s of job %s: %v", results[i].ID, jobID, err)
			s.finish(job, userID, jobID, filePaths, nil, "failed to save scan results")
			return
		}
	}

	s.finish(job, userID, jobID, filePaths, results, "")
}

// finish publishes the job's single completion signal. Subsequent calls
// for the same job, from either the worker or the watchdog, do nothing.
func (s *Submitter) finish(job *pendingJob, userID, jobID string, filePaths []string, results []domain.ScannedAnswer, errMsg string) {
	job.once.Do(func() {
		if job.timer != nil {
			job.timer.Stop()
		}

		s.mu.Lock()
		delete(s.pending, jobID)
		s.mu.Unlock()

		if s.uploads != nil {
			if err := s.uploads.Remove(filePaths); err != nil {
				logger.Warnf("Failed to clean uploads for job %s: %v", jobID, err)
			}
		}

		var event domain.Event
		if errMsg != "" {
			event = domain.NewJobFailedEvent(userID, jobID, errMsg)
		} else {
			event = domain.NewJobCompletedEvent(userID, jobID, results)
		}
		if err := s.bus.Publish(event); err != nil {
			logger.Errorf("Failed to publish completion for job %s: %v", jobID, err)
		}
	})
}

// PendingCount returns the number of jobs not yet completed.
func (s *Submitter) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
