package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fableforge/fableforge/internal/observability"
	"github.com/fableforge/fableforge/internal/orchestrator"
	"github.com/fableforge/fableforge/internal/session"
)

// Completion names the session pair to report to when a job finishes.
// Jobs without a completion target skip session bookkeeping.
type Completion struct {
	UserID   string
	Category string
}

// Runner executes orchestrated operations in the background. Submitted
// jobs run on a context detached from the caller's cancellation so an
// abandoned HTTP request does not kill the work it started.
type Runner struct {
	orch    *orchestrator.Orchestrator
	tracker *session.Tracker
	store   *jobStore
	logger  observability.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. The tracker may be nil when no session
// bookkeeping is needed.
func NewRunner(orch *orchestrator.Orchestrator, tracker *session.Tracker, retention time.Duration, logger observability.Logger) *Runner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Runner{
		orch:    orch,
		tracker: tracker,
		store:   newJobStore(retention),
		logger:  logger,
	}
}

// Submit registers a pending job and starts it in the background,
// returning immediately with the job ID for polling. The operation runs
// under the long deadline class regardless of the caller's context.
func (r *Runner) Submit(
	ctx context.Context,
	op orchestrator.Operation,
	opts orchestrator.CacheOptions,
	req *orchestrator.Request,
	completion *Completion,
) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Operation: op.Name,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	r.store.put(job)
	GetJobsMetrics().SubmittedTotal.WithLabelValues(op.Name).Inc()

	op.Background = true

	// Values such as the request ID survive; the caller's cancellation
	// does not.
	detached := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(detached, job.ID, op, opts, req, completion)
	}()

	return job
}

// Get returns the current state of a job.
func (r *Runner) Get(ctx context.Context, id string) (*Job, error) {
	return r.store.Get(ctx, id)
}

func (r *Runner) run(
	ctx context.Context,
	jobID string,
	op orchestrator.Operation,
	opts orchestrator.CacheOptions,
	req *orchestrator.Request,
	completion *Completion,
) {
	r.store.update(jobID, func(j *Job) {
		j.Status = StatusProcessing
	})

	outcome := r.orch.ExecuteWithCache(ctx, op, opts, req)
	success := outcome.Status == orchestrator.StatusSuccess || outcome.Status == orchestrator.StatusCacheHit

	if success {
		r.store.update(jobID, func(j *Job) {
			j.Status = StatusCompleted
			j.Result = outcome.Value
		})
	} else {
		errText := string(outcome.Status)
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		r.store.update(jobID, func(j *Job) {
			j.Status = StatusFailed
			j.Error = errText
		})
		r.logger.Error("background job failed",
			observability.String("job_id", jobID),
			observability.String("operation", op.Name),
			observability.String("status", string(outcome.Status)),
			observability.Error(outcome.Err),
		)
	}
	GetJobsMetrics().FinishedTotal.WithLabelValues(op.Name, finalLabel(success)).Inc()

	if completion != nil && r.tracker != nil {
		if err := r.tracker.MarkCompleted(ctx, completion.UserID, completion.Category, success); err != nil {
			r.logger.Error("reporting job completion",
				observability.String("job_id", jobID),
				observability.String("user_id", completion.UserID),
				observability.String("category", completion.Category),
				observability.Error(err),
			)
		}
	}
}

func finalLabel(success bool) string {
	if success {
		return string(StatusCompleted)
	}
	return string(StatusFailed)
}

// Shutdown waits for in-flight jobs to finish or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	defer r.store.close()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
