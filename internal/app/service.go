package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/logger"
)

type Dependencies struct {
	Modules  ModuleSource
	Store    Store
	Locker   Locker
	Audit    *audit.Dispatcher
	Feed     *Feed
	Relay    Broadcaster
	Log      *logger.Logger
	Recorder Recorder
	Now      func() time.Time
}

type Settings struct {
	PassThreshold int
	PageSize      int
	TopSize       int
	NearRadius    int
}

func (s Settings) withDefaults() Settings {
	if s.PassThreshold <= 0 {
		s.PassThreshold = 70
	}
	if s.PageSize <= 0 {
		s.PageSize = 50
	}
	if s.TopSize <= 0 {
		s.TopSize = 10
	}
	if s.NearRadius <= 0 {
		s.NearRadius = 5
	}
	return s
}

// Service exposes the progress, gamification and leaderboard use cases.
type Service struct {
	catalog   *Catalog
	store     Store
	locker    Locker
	audit     *audit.Dispatcher
	feed      *Feed
	relay     Broadcaster
	log       *logger.Logger
	recorder  Recorder
	now       func() time.Time
	settings  Settings
	tracker   *Tracker
	evaluator *BadgeEvaluator
	ranker    *Ranker
}

func NewService(deps Dependencies, settings Settings) *Service {
	settings = settings.withDefaults()
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Feed == nil {
		deps.Feed = NewFeed()
	}
	catalog := NewCatalog(deps.Modules)
	return &Service{
		catalog:   catalog,
		store:     deps.Store,
		locker:    deps.Locker,
		audit:     deps.Audit,
		feed:      deps.Feed,
		relay:     deps.Relay,
		log:       deps.Log,
		recorder:  deps.Recorder,
		now:       deps.Now,
		settings:  settings,
		tracker:   NewTracker(settings.PassThreshold, deps.Now),
		evaluator: NewBadgeEvaluator(catalog),
		ranker:    NewRanker(deps.Now),
	}
}

// StartModule makes moduleID the caller's active module.
func (s *Service) StartModule(ctx context.Context, id domain.Identity, moduleID string) (domain.Progress, error) {
	if _, err := s.catalog.GetModule(ctx, moduleID); err != nil {
		return domain.Progress{}, err
	}
	var (
		progress domain.Progress
		started  bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		if _, err := tx.Users().Ensure(ctx, id); err != nil {
			return err
		}
		p, first, err := s.tracker.Start(ctx, tx, id.UserID, moduleID)
		progress, started = p, first
		return err
	})
	if err != nil {
		return domain.Progress{}, err
	}
	if started {
		s.audit.Emit(ctx, audit.NewEvent(id.UserID, audit.ActionModuleStarted, map[string]any{"moduleId": moduleID}))
	}
	return progress, nil
}

// ExitActiveModule deactivates whatever module the user has active. Having none is not an error.
func (s *Service) ExitActiveModule(ctx context.Context, userID string) error {
	var (
		active      domain.Progress
		deactivated int
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		p, err := tx.Progress().Active(ctx, userID)
		if err != nil && !errors.Is(err, domain.ErrNoActiveModule) {
			return err
		}
		active = p
		deactivated, err = tx.Progress().DeactivateAll(ctx, userID)
		return err
	})
	if err != nil {
		return err
	}
	if deactivated > 0 {
		s.audit.Emit(ctx, audit.NewEvent(userID, audit.ActionModuleExited, map[string]any{"moduleId": active.ModuleID}))
	}
	return nil
}

// TouchModule records that the user opened the module.
func (s *Service) TouchModule(ctx context.Context, id domain.Identity, moduleID string) (domain.Progress, error) {
	if _, err := s.catalog.GetModule(ctx, moduleID); err != nil {
		return domain.Progress{}, err
	}
	var progress domain.Progress
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		if _, err := tx.Users().Ensure(ctx, id); err != nil {
			return err
		}
		p, err := s.tracker.Touch(ctx, tx.Progress(), id.UserID, moduleID)
		progress = p
		return err
	})
	return progress, err
}

type ActiveModule struct {
	Progress domain.Progress `json:"progress"`
	Module   domain.Module   `json:"module"`
}

func (s *Service) ActiveModule(ctx context.Context, userID string) (ActiveModule, error) {
	p, err := s.store.Progress().Active(ctx, userID)
	if err != nil {
		return ActiveModule{}, err
	}
	m, err := s.catalog.GetModule(ctx, p.ModuleID)
	if err != nil {
		return ActiveModule{}, err
	}
	return ActiveModule{Progress: p, Module: m}, nil
}

func (s *Service) ModuleProgress(ctx context.Context, userID, moduleID string) (domain.Progress, error) {
	return s.store.Progress().Get(ctx, userID, moduleID)
}

// AllProgress lists the user's records, most recently accessed first.
func (s *Service) AllProgress(ctx context.Context, userID string) ([]domain.Progress, error) {
	list, err := s.store.Progress().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastAccessedAt.After(list[j].LastAccessedAt)
	})
	return list, nil
}

func (s *Service) ProgressSummary(ctx context.Context, id domain.Identity) (domain.ProgressSummary, error) {
	user, err := s.store.Users().Ensure(ctx, id)
	if err != nil {
		return domain.ProgressSummary{}, err
	}
	progress, err := s.store.Progress().ListByUser(ctx, id.UserID)
	if err != nil {
		return domain.ProgressSummary{}, err
	}
	levels, err := s.catalog.Levels(ctx)
	if err != nil {
		return domain.ProgressSummary{}, err
	}
	totalModules, err := s.catalog.CountAll(ctx)
	if err != nil {
		return domain.ProgressSummary{}, err
	}

	sum := domain.ProgressSummary{
		TotalPoints:   user.TotalPoints,
		CurrentLevel:  user.CurrentLevel,
		TotalModules:  totalModules,
		BadgesEarned:  len(user.EarnedBadges),
		LevelProgress: make(map[domain.Level]domain.LevelProgress, len(domain.Levels)),
	}
	totals := make(map[domain.Level]int, len(domain.Levels))
	for _, l := range domain.Levels {
		n, err := s.catalog.CountByLevel(ctx, l)
		if err != nil {
			return domain.ProgressSummary{}, err
		}
		totals[l] = n
	}
	completedByLevel := make(map[domain.Level]int)
	scored, scoreSum := 0, 0
	for _, p := range progress {
		switch p.Status {
		case domain.StatusCompleted:
			sum.ModulesCompleted++
			if l, ok := levels[p.ModuleID]; ok {
				completedByLevel[l]++
			}
		case domain.StatusInProgress:
			sum.ModulesInProgress++
		}
		sum.TotalTimeSpent += p.TimeSpent
		if len(p.Attempts) > 0 {
			scored++
			scoreSum += p.BestScore
		}
	}
	sum.CompletionRate = percent(sum.ModulesCompleted, sum.TotalModules)
	if sum.CompletionRate > 100 {
		sum.CompletionRate = 100
	}
	if scored > 0 {
		sum.AverageScore = percent(scoreSum, scored*100)
	}
	for _, l := range domain.Levels {
		sum.LevelProgress[l] = domain.LevelProgress{
			Completed:  completedByLevel[l],
			Total:      totals[l],
			Percentage: percent(completedByLevel[l], totals[l]),
		}
	}
	return sum, nil
}

func (s *Service) Modules(ctx context.Context) ([]domain.Module, error) {
	return s.catalog.List(ctx)
}

func (s *Service) ModulesByLevel(ctx context.Context, level domain.Level) ([]domain.Module, error) {
	if !level.Valid() {
		verr := &domain.ValidationError{}
		verr.Add("level", "must be one of beginner, intermediate, advanced")
		return nil, verr
	}
	return s.catalog.ListByLevel(ctx, level)
}

func (s *Service) Module(ctx context.Context, moduleID string) (domain.Module, error) {
	return s.catalog.GetModule(ctx, moduleID)
}

func (s *Service) Badges(ctx context.Context) ([]domain.Badge, error) {
	return s.store.Badges().ListActive(ctx)
}

type UserBadge struct {
	Badge    domain.Badge `json:"badge"`
	EarnedAt time.Time    `json:"earnedAt"`
}

func (s *Service) UserBadges(ctx context.Context, userID string) ([]UserBadge, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return []UserBadge{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]UserBadge, 0, len(user.EarnedBadges))
	for _, eb := range user.EarnedBadges {
		b, err := s.store.Badges().Get(ctx, eb.BadgeID)
		if errors.Is(err, domain.ErrBadgeNotFound) {
			s.log.Warn("earned badge missing from catalog", "badge", eb.BadgeID, "user", userID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, UserBadge{Badge: b, EarnedAt: eb.EarnedAt})
	}
	return out, nil
}
