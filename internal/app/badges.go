package app

import (
	"context"
	"fmt"

	"cyberguard-progress-service/internal/domain"
)

// BadgeEvaluator decides which catalog badges a user newly qualifies for.
type BadgeEvaluator struct {
	catalog *Catalog
}

func NewBadgeEvaluator(catalog *Catalog) *BadgeEvaluator {
	return &BadgeEvaluator{catalog: catalog}
}

// badgeFacts is the aggregate state every criterion is checked against.
type badgeFacts struct {
	totalPoints        int
	anyProgress        bool
	completed          int
	completedInCatalog int
	completedByLevel   map[domain.Level]int
	perfect            int
	perfectByLevel     map[domain.Level]int
	moduleCount        int
	countByLevel       map[domain.Level]int
	fastestAttempt     int
	hasAttempt         bool
}

// Qualified returns the badges, in catalog order, whose criteria the user now meets
// and does not already hold.
func (e *BadgeEvaluator) Qualified(ctx context.Context, badges []domain.Badge, user domain.User, progress []domain.Progress) ([]domain.Badge, error) {
	facts, err := e.facts(ctx, user, progress)
	if err != nil {
		return nil, err
	}
	var out []domain.Badge
	for _, b := range badges {
		if !b.IsActive || user.HasBadge(b.ID) {
			continue
		}
		ok, err := facts.satisfies(b.Criterion)
		if err != nil {
			return nil, fmt.Errorf("badge %s: %w", b.ID, err)
		}
		if ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (e *BadgeEvaluator) facts(ctx context.Context, user domain.User, progress []domain.Progress) (badgeFacts, error) {
	levels, err := e.catalog.Levels(ctx)
	if err != nil {
		return badgeFacts{}, err
	}
	moduleCount, err := e.catalog.CountAll(ctx)
	if err != nil {
		return badgeFacts{}, err
	}
	f := badgeFacts{
		totalPoints:      user.TotalPoints,
		anyProgress:      len(progress) > 0,
		completedByLevel: make(map[domain.Level]int),
		perfectByLevel:   make(map[domain.Level]int),
		countByLevel:     make(map[domain.Level]int, len(domain.Levels)),
		moduleCount:      moduleCount,
	}
	for _, l := range domain.Levels {
		if f.countByLevel[l], err = e.catalog.CountByLevel(ctx, l); err != nil {
			return badgeFacts{}, err
		}
	}
	for _, p := range progress {
		level, resolved := levels[p.ModuleID]
		if p.Completed() {
			f.completed++
			if resolved {
				f.completedInCatalog++
				f.completedByLevel[level]++
			}
		}
		if p.BestScore == 100 {
			f.perfect++
			if resolved {
				f.perfectByLevel[level]++
			}
		}
		for _, a := range p.Attempts {
			if !f.hasAttempt || a.Duration < f.fastestAttempt {
				f.fastestAttempt = a.Duration
				f.hasAttempt = true
			}
		}
	}
	return f, nil
}

func (f badgeFacts) satisfies(c domain.Criterion) (bool, error) {
	switch c := c.(type) {
	case domain.PointsEarned:
		return f.totalPoints >= c.Points, nil
	case domain.ModulesCompleted:
		return f.completed >= c.Count, nil
	case domain.LevelCompleted:
		total := f.countByLevel[c.Level]
		return total > 0 && f.completedByLevel[c.Level] >= total, nil
	case domain.PerfectScore:
		if c.Level != "" {
			total := f.countByLevel[c.Level]
			return total > 0 && f.perfectByLevel[c.Level] >= total, nil
		}
		return f.perfect >= c.Count, nil
	case domain.FirstModule:
		return f.anyProgress, nil
	case domain.AllModulesLevel:
		if f.moduleCount == 0 {
			return false, nil
		}
		return f.completedInCatalog*100 >= c.Percent*f.moduleCount, nil
	case domain.SpeedCompletion:
		return f.hasAttempt && f.fastestAttempt <= c.Seconds, nil
	case domain.Streak:
		// Activity streaks are not tracked.
		return false, nil
	case nil:
		return false, domain.ErrUnknownCriterion
	}
	return false, fmt.Errorf("%w: %T", domain.ErrUnknownCriterion, c)
}
