package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fableforge/fableforge/internal/cache"
	"github.com/fableforge/fableforge/internal/config"
	"github.com/fableforge/fableforge/internal/observability"
)

// Clone lifecycle statuses as rendered in hydrated session state.
const (
	StatusIdle      = "idle"
	StatusCloning   = "cloning"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CompletionRecord is written when a clone finishes successfully. It is
// retained only briefly so clients polling session state can observe the
// transition before it decays back to idle. Failed clones persist
// nothing, leaving the category eligible for the next attempt.
type CompletionRecord struct {
	UserID      string    `json:"userId"`
	Category    string    `json:"category"`
	SampleCount int       `json:"sampleCount"`
	CompletedAt time.Time `json:"completedAt"`
}

// Tracker counts distinct samples per (user, category) pair and gates
// clone triggering on a configurable threshold. At most one clone per
// pair runs at a time.
type Tracker struct {
	store       Store
	completions cache.Store
	threshold   int
	retention   time.Duration
	logger      observability.Logger
	now         func() time.Time
}

// NewTracker creates a Tracker backed by the given counter store.
// Completion records are kept in the cache store under the configured
// retention window.
func NewTracker(cfg config.SessionConfig, store Store, completions cache.Store, logger observability.Logger) *Tracker {
	threshold := cfg.CloneThreshold
	if threshold <= 0 {
		threshold = 3
	}
	retention := cfg.CompletionRetention.Duration()
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Tracker{
		store:       store,
		completions: completions,
		threshold:   threshold,
		retention:   retention,
		logger:      logger,
		now:         time.Now,
	}
}

// Threshold returns the configured clone threshold.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// Increment records a qualifying sample and returns the distinct sample
// count for the pair. Recording the same sample ID again is a no-op for
// the count.
func (t *Tracker) Increment(ctx context.Context, userID, category, sampleID string) (int, error) {
	count, err := t.store.AddSample(ctx, userID, category, sampleID)
	if err != nil {
		return 0, err
	}

	t.logger.Debug("sample recorded",
		observability.String("user_id", userID),
		observability.String("category", category),
		observability.Int("distinct_count", count),
	)
	return count, nil
}

// ShouldTrigger reports whether the pair has reached the threshold and no
// clone is currently in progress. It does not acquire the in-progress
// guard; callers that decide to proceed must win MarkInProgress first.
func (t *Tracker) ShouldTrigger(ctx context.Context, userID, category string) (bool, error) {
	count, err := t.store.Count(ctx, userID, category)
	if err != nil {
		return false, err
	}
	if count < t.threshold {
		return false, nil
	}

	locked, err := t.store.Locked(ctx, userID, category)
	if err != nil {
		return false, err
	}
	return !locked, nil
}

// MarkInProgress atomically acquires the in-progress guard for the pair.
// It returns false when another clone already holds it, in which case the
// caller must not start a clone.
func (t *Tracker) MarkInProgress(ctx context.Context, userID, category string) (bool, error) {
	won, err := t.store.TryLock(ctx, userID, category)
	if err != nil {
		return false, err
	}
	if won {
		t.logger.Info("clone started",
			observability.String("user_id", userID),
			observability.String("category", category),
		)
	}
	return won, nil
}

// MarkCompleted finishes a clone cycle for the pair. On success it resets
// the sample counter and writes a completion record with the retention
// TTL; the in-progress guard is released only after both are visible, so
// a concurrent ShouldTrigger never observes the pre-clone counter with
// the guard already gone. On failure nothing is persisted and the guard
// is simply released, keeping the accumulated samples eligible for a
// retry.
func (t *Tracker) MarkCompleted(ctx context.Context, userID, category string, success bool) error {
	if success {
		if err := t.finishClone(ctx, userID, category); err != nil {
			if unlockErr := t.store.Unlock(ctx, userID, category); unlockErr != nil {
				t.logger.Error("guard release failed",
					observability.String("user_id", userID),
					observability.String("category", category),
					observability.Error(unlockErr),
				)
			}
			return err
		}
	} else {
		t.logger.Warn("clone failed",
			observability.String("user_id", userID),
			observability.String("category", category),
		)
	}

	return t.store.Unlock(ctx, userID, category)
}

func (t *Tracker) finishClone(ctx context.Context, userID, category string) error {
	count, err := t.store.Count(ctx, userID, category)
	if err != nil {
		return err
	}
	if err := t.store.Reset(ctx, userID, category); err != nil {
		return err
	}

	rec := CompletionRecord{
		UserID:      userID,
		Category:    category,
		SampleCount: count,
		CompletedAt: t.now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := t.completions.Set(ctx, completionKey(userID, category), payload, t.retention); err != nil {
		return err
	}

	t.logger.Info("clone completed",
		observability.String("user_id", userID),
		observability.String("category", category),
		observability.Int("sample_count", count),
	)
	return nil
}

// Completion returns the completion record for the pair, or nil when none
// exists within the retention window.
func (t *Tracker) Completion(ctx context.Context, userID, category string) (*CompletionRecord, error) {
	data, err := t.completions.Get(ctx, completionKey(userID, category))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec CompletionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func completionKey(userID, category string) string {
	return "session:completion:" + userID + ":" + category
}
