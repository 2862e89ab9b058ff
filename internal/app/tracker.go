package app

import (
	"context"
	"errors"
	"time"

	"cyberguard-progress-service/internal/domain"
)

// Tracker owns the per-user, per-module progress state machine.
type Tracker struct {
	passThreshold int
	now           func() time.Time
}

func NewTracker(passThreshold int, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{passThreshold: passThreshold, now: now}
}

// GetOrCreate returns the stored progress or a fresh not-started record. It does not persist.
func (t *Tracker) GetOrCreate(ctx context.Context, repo ProgressRepository, userID, moduleID string) (domain.Progress, error) {
	p, err := repo.Get(ctx, userID, moduleID)
	if errors.Is(err, domain.ErrProgressNotFound) {
		return domain.NewProgress(userID, moduleID, t.now()), nil
	}
	return p, err
}

// Start activates moduleID for the user. It must run inside a transaction so the
// user lock covers the active check and the write.
func (t *Tracker) Start(ctx context.Context, tx Repositories, userID, moduleID string) (domain.Progress, bool, error) {
	if err := tx.Users().Lock(ctx, userID); err != nil {
		return domain.Progress{}, false, err
	}
	active, err := tx.Progress().Active(ctx, userID)
	switch {
	case err == nil && active.ModuleID != moduleID:
		return domain.Progress{}, false, domain.ErrActiveModuleConflict
	case err != nil && !errors.Is(err, domain.ErrNoActiveModule):
		return domain.Progress{}, false, err
	}

	p, err := t.GetOrCreate(ctx, tx.Progress(), userID, moduleID)
	if err != nil {
		return domain.Progress{}, false, err
	}
	started := p.Status == domain.StatusNotStarted
	p.Activate(t.now())
	if err := tx.Progress().Save(ctx, p); err != nil {
		return domain.Progress{}, false, err
	}
	return p, started, nil
}

// RecordAttempt folds a graded submission into p and returns the stored attempt.
func (t *Tracker) RecordAttempt(p *domain.Progress, g GradeResult, duration int) domain.Attempt {
	now := t.now()
	return p.AddAttempt(domain.Attempt{
		Answers:        g.Answers,
		Score:          g.Score,
		TotalQuestions: g.TotalQuestions,
		CorrectAnswers: g.CorrectAnswers,
		PointsEarned:   g.PointsEarned,
		Duration:       duration,
		CompletedAt:    now,
	}, t.passThreshold, now)
}

func (t *Tracker) Passed(score int) bool { return score >= t.passThreshold }

// Touch refreshes the last-accessed time, creating the record if needed.
func (t *Tracker) Touch(ctx context.Context, repo ProgressRepository, userID, moduleID string) (domain.Progress, error) {
	p, err := t.GetOrCreate(ctx, repo, userID, moduleID)
	if err != nil {
		return domain.Progress{}, err
	}
	p.LastAccessedAt = t.now()
	if err := repo.Save(ctx, p); err != nil {
		return domain.Progress{}, err
	}
	return p, nil
}
