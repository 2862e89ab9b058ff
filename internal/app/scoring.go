package app

import (
	"context"
	"errors"
	"fmt"

	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/domain"
)

type SubmitRequest struct {
	Answers  []domain.Answer
	Duration int
}

type SubmitResult struct {
	Attempt   domain.Attempt          `json:"attempt"`
	Progress  domain.Progress         `json:"progress"`
	NewBadges []domain.Badge          `json:"newBadges"`
	Passed    bool                    `json:"passed"`
	LevelUp   domain.Level            `json:"levelUp,omitempty"`
	Entry     domain.LeaderboardEntry `json:"leaderboard"`
}

// SubmitQuiz grades a submission and, in one transaction, records the attempt,
// accrues points, promotes the user, awards badges and re-ranks the leaderboard.
// Audit events and the live feed go out only after commit.
func (s *Service) SubmitQuiz(ctx context.Context, id domain.Identity, moduleID string, req SubmitRequest) (SubmitResult, error) {
	module, err := s.catalog.GetModule(ctx, moduleID)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := ValidateSubmission(module, req.Answers, req.Duration); err != nil {
		return SubmitResult{}, err
	}
	graded, err := Grade(module.Questions, req.Answers)
	if err != nil {
		s.log.Error("cannot grade module", "module", moduleID, "error", err)
		return SubmitResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, "submit:"+id.UserID+":"+moduleID)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("acquire submission lock: %w", err)
	}
	defer unlock()

	var (
		res    SubmitResult
		events []audit.Event
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		res, events = SubmitResult{}, nil

		if _, err := tx.Users().Ensure(ctx, id); err != nil {
			return err
		}
		if err := tx.Users().Lock(ctx, id.UserID); err != nil {
			return err
		}

		p, err := s.tracker.GetOrCreate(ctx, tx.Progress(), id.UserID, moduleID)
		if err != nil {
			return err
		}
		attempt := s.tracker.RecordAttempt(&p, graded, req.Duration)
		if err := tx.Progress().Save(ctx, p); err != nil {
			return fmt.Errorf("save progress: %w", err)
		}
		res.Attempt, res.Progress = attempt, p
		res.Passed = s.tracker.Passed(attempt.Score)

		key := fmt.Sprintf("attempt:%s:%s:%d", id.UserID, moduleID, attempt.AttemptNumber)
		if _, err := tx.Users().AddPoints(ctx, id.UserID, attempt.PointsEarned, key); err != nil {
			return fmt.Errorf("add points: %w", err)
		}

		progress, err := tx.Progress().ListByUser(ctx, id.UserID)
		if err != nil {
			return err
		}
		levelUp, err := s.promote(ctx, tx, id.UserID, progress)
		if err != nil {
			return err
		}
		res.LevelUp = levelUp

		newBadges, badgeEvents, err := s.awardBadges(ctx, tx, id.UserID, progress)
		if err != nil {
			return err
		}
		res.NewBadges = newBadges

		entry, err := s.ranker.Refresh(ctx, tx, id.UserID)
		if err != nil {
			return fmt.Errorf("refresh leaderboard: %w", err)
		}
		res.Entry = entry

		events = append(events, audit.NewEvent(id.UserID, audit.ActionAttemptSubmitted, map[string]any{
			"moduleId":      moduleID,
			"attemptNumber": attempt.AttemptNumber,
			"score":         attempt.Score,
			"pointsEarned":  attempt.PointsEarned,
		}))
		if res.Passed {
			events = append(events, audit.NewEvent(id.UserID, audit.ActionModuleCompleted, map[string]any{
				"moduleId": moduleID,
				"score":    attempt.Score,
			}))
		}
		events = append(events, badgeEvents...)
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if res.NewBadges == nil {
		res.NewBadges = []domain.Badge{}
	}

	s.audit.Emit(ctx, events...)
	s.recorder.SubmissionGraded(res.Passed)
	for _, b := range res.NewBadges {
		s.recorder.BadgeAwarded(b.ID)
	}
	s.publishLeaderboard(ctx)
	return res, nil
}

// promote moves the user up while every module of their current level is completed.
// It returns the final level when it changed.
func (s *Service) promote(ctx context.Context, tx Repositories, userID string, progress []domain.Progress) (domain.Level, error) {
	user, err := tx.Users().Get(ctx, userID)
	if err != nil {
		return "", err
	}
	levels, err := s.catalog.Levels(ctx)
	if err != nil {
		return "", err
	}
	completed := make(map[domain.Level]int)
	for _, p := range progress {
		if l, ok := levels[p.ModuleID]; ok && p.Completed() {
			completed[l]++
		}
	}

	level := user.CurrentLevel
	for {
		total, err := s.catalog.CountByLevel(ctx, level)
		if err != nil {
			return "", err
		}
		if total == 0 || completed[level] < total {
			break
		}
		next, ok := level.Next()
		if !ok {
			break
		}
		level = next
	}
	if level == user.CurrentLevel {
		return "", nil
	}
	if err := tx.Users().SetLevel(ctx, userID, level); err != nil {
		return "", err
	}
	return level, nil
}

func (s *Service) awardBadges(ctx context.Context, tx Repositories, userID string, progress []domain.Progress) ([]domain.Badge, []audit.Event, error) {
	user, err := tx.Users().Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	catalog, err := tx.Badges().ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	qualified, err := s.evaluator.Qualified(ctx, catalog, user, progress)
	if err != nil {
		return nil, nil, err
	}
	var (
		awarded []domain.Badge
		events  []audit.Event
	)
	now := s.now()
	for _, b := range qualified {
		added, err := tx.Users().AwardBadge(ctx, userID, b.ID, now)
		if err != nil {
			return nil, nil, fmt.Errorf("award badge %s: %w", b.ID, err)
		}
		if !added {
			continue
		}
		awarded = append(awarded, b)
		events = append(events, audit.NewEvent(userID, audit.ActionBadgeEarned, map[string]any{
			"badgeId": b.ID,
			"name":    b.Name,
		}))
	}
	return awarded, events, nil
}

func (s *Service) publishLeaderboard(ctx context.Context) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		s.log.Warn("leaderboard snapshot failed", "error", err)
		return
	}
	if s.relay == nil {
		s.feed.Publish(snap)
		return
	}
	// The relay echoes back to every instance, this one included.
	if err := s.relay.Broadcast(ctx, snap); err != nil {
		s.log.Warn("leaderboard broadcast failed", "error", err)
		s.feed.Publish(snap)
	}
}

func (s *Service) snapshot(ctx context.Context) (domain.LeaderboardSnapshot, error) {
	top, err := s.store.Leaderboard().RankRange(ctx, 1, s.settings.TopSize)
	if err != nil && !errors.Is(err, domain.ErrRankNotFound) {
		return domain.LeaderboardSnapshot{}, err
	}
	if top == nil {
		top = []domain.LeaderboardEntry{}
	}
	return domain.LeaderboardSnapshot{Entries: top, UpdatedAt: s.now()}, nil
}
