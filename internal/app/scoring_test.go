package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/infra/memory"
	"cyberguard-progress-service/internal/logger"
)

func TestSubmitFailingThenPassing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := submit(t, f, alice(), "phishing-basics", phishingAnswers(2))
	if first.Attempt.Score != 67 || first.Passed {
		t.Fatalf("expected 67 and not passed, got %+v", first.Attempt)
	}
	if first.Progress.Status != domain.StatusInProgress {
		t.Fatalf("expected in-progress, got %s", first.Progress.Status)
	}
	if first.Attempt.AttemptNumber != 1 {
		t.Fatalf("expected attempt 1, got %d", first.Attempt.AttemptNumber)
	}

	f.clock.Advance(time.Minute)
	second := submit(t, f, alice(), "phishing-basics", phishingAnswers(3))
	if second.Attempt.Score != 100 || !second.Passed {
		t.Fatalf("expected 100 and passed, got %+v", second.Attempt)
	}
	p := second.Progress
	if p.Status != domain.StatusCompleted || p.CompletedAt == nil {
		t.Fatalf("expected completed, got %+v", p)
	}
	if p.BestScore != 100 || p.BestAttemptNumber != 2 || p.TotalPointsEarned != 30 {
		t.Fatalf("unexpected best fields %+v", p)
	}
	if p.TimeSpent != 1200 || p.IsActive {
		t.Fatalf("expected time 1200 and inactive, got %d %v", p.TimeSpent, p.IsActive)
	}

	user, err := f.store.Users().Get(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.TotalPoints != 50 {
		t.Fatalf("expected points summed over attempts (20+30), got %d", user.TotalPoints)
	}

	actions := f.events.Actions()
	if actions[audit.ActionAttemptSubmitted] != 2 || actions[audit.ActionModuleCompleted] != 1 {
		t.Fatalf("unexpected audit actions %v", actions)
	}
}

func TestBestScoreNotReplacedByLowerAttempt(t *testing.T) {
	f := newFixture(t)

	submit(t, f, alice(), "phishing-basics", phishingAnswers(3))
	f.clock.Advance(time.Minute)
	res := submit(t, f, alice(), "phishing-basics", phishingAnswers(1))
	f.clock.Advance(time.Minute)
	res = submit(t, f, alice(), "phishing-basics", phishingAnswers(3))

	p := res.Progress
	if p.BestScore != 100 || p.BestAttemptNumber != 1 || p.TotalPointsEarned != 30 {
		t.Fatalf("expected first perfect attempt kept as best, got %+v", p)
	}
	if p.Status != domain.StatusCompleted {
		t.Fatalf("completed is terminal, got %s", p.Status)
	}
	for i, a := range p.Attempts {
		if a.AttemptNumber != i+1 {
			t.Fatalf("attempt numbers must be 1..n, got %d at %d", a.AttemptNumber, i)
		}
	}
	if first := *p.CompletedAt; !first.Equal(newClock().Now()) {
		t.Fatalf("expected first completion time kept, got %v", first)
	}
}

func TestSubmitUnknownModuleMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitQuiz(ctx, alice(), "nope", app.SubmitRequest{Answers: phishingAnswers(3)})
	if !errors.Is(err, domain.ErrModuleNotFound) {
		t.Fatalf("expected module not found, got %v", err)
	}
	if _, err := f.store.Users().Get(ctx, "alice"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected no user created, got %v", err)
	}
	if len(f.events.Events()) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitQuiz(context.Background(), alice(), "phishing-basics", app.SubmitRequest{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPointsThresholdBadge(t *testing.T) {
	f := newFixture(t, pointsBadge("points-100", 100, 1), pointsBadge("points-200", 200, 2))
	ctx := context.Background()

	if _, err := f.store.Users().Ensure(ctx, alice()); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := f.store.Users().AddPoints(ctx, "alice", 95, "seed"); err != nil {
		t.Fatalf("seed points: %v", err)
	}

	res := submit(t, f, alice(), "phishing-basics", phishingAnswers(1))
	if len(res.NewBadges) != 1 || res.NewBadges[0].ID != "points-100" {
		t.Fatalf("expected only points-100, got %+v", res.NewBadges)
	}

	res = submit(t, f, alice(), "phishing-basics", phishingAnswers(1))
	if len(res.NewBadges) != 0 {
		t.Fatalf("expected no re-award, got %+v", res.NewBadges)
	}
	if got := f.events.Actions()[audit.ActionBadgeEarned]; got != 1 {
		t.Fatalf("expected exactly one badge.earned event, got %d", got)
	}
	user, _ := f.store.Users().Get(ctx, "alice")
	if user.TotalPoints != 115 || len(user.EarnedBadges) != 1 {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestLeaderboardTieOrdersEarlierFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Both users land on 30 points; alice gets there first.
	submit(t, f, alice(), "phishing-basics", phishingAnswers(3))
	f.clock.Advance(time.Second)
	submit(t, f, bob(), "password-hygiene", passwordAnswers())

	page, err := f.svc.Leaderboard(ctx, 1, 50)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(page.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(page.Entries))
	}
	if page.Entries[0].UserID != "alice" || page.Entries[0].Rank != 1 || page.Entries[1].Rank != 2 {
		t.Fatalf("expected alice first on tie, got %+v", page.Entries)
	}

	// Bob overtakes.
	f.clock.Advance(time.Second)
	submit(t, f, bob(), "phishing-basics", phishingAnswers(1))
	bobEntry, _ := f.store.Leaderboard().Get(ctx, "bob")
	aliceEntry, _ := f.store.Leaderboard().Get(ctx, "alice")
	if bobEntry.Rank != 1 || bobEntry.PreviousRank != 2 || bobEntry.RankChange != 1 {
		t.Fatalf("unexpected bob entry %+v", bobEntry)
	}
	if aliceEntry.Rank != 2 || aliceEntry.RankChange != -1 {
		t.Fatalf("unexpected alice entry %+v", aliceEntry)
	}
}

func TestRanksArePermutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7"}
	for i, u := range users {
		f.clock.Advance(time.Second)
		submit(t, f, domain.Identity{UserID: u, DisplayName: u}, "phishing-basics", phishingAnswers(i%4))
	}

	all, err := f.store.Leaderboard().All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	seen := map[int]bool{}
	for i, e := range all {
		seen[e.Rank] = true
		if i > 0 && all[i-1].TotalPoints < e.TotalPoints {
			t.Fatalf("ranks not ordered by points: %+v", all)
		}
	}
	for r := 1; r <= len(users); r++ {
		if !seen[r] {
			t.Fatalf("rank %d missing from %+v", r, all)
		}
	}
}

func TestStartModuleSingleActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.StartModule(ctx, alice(), "phishing-basics"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.StartModule(ctx, alice(), "phishing-basics"); err != nil {
		t.Fatalf("restart same module should be idempotent: %v", err)
	}
	if _, err := f.svc.StartModule(ctx, alice(), "password-hygiene"); !errors.Is(err, domain.ErrActiveModuleConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	active, err := f.svc.ActiveModule(ctx, "alice")
	if err != nil || active.Progress.ModuleID != "phishing-basics" || active.Module.ID != "phishing-basics" {
		t.Fatalf("unexpected active %+v err=%v", active, err)
	}
	if active.Progress.Status != domain.StatusInProgress || active.Progress.StartedAt == nil {
		t.Fatalf("expected started progress, got %+v", active.Progress)
	}

	// A submission deactivates the module, freeing the slot.
	submit(t, f, alice(), "phishing-basics", phishingAnswers(1))
	if _, err := f.svc.StartModule(ctx, alice(), "password-hygiene"); err != nil {
		t.Fatalf("start after submit: %v", err)
	}
}

func TestConcurrentStartsLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	modules := []string{"phishing-basics", "password-hygiene", "network-security", "malware-defense"}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.StartModule(ctx, alice(), modules[i%len(modules)])
			if err != nil && !errors.Is(err, domain.ErrActiveModuleConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	list, _ := f.store.Progress().ListByUser(ctx, "alice")
	active := 0
	for _, p := range list {
		if p.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active module, got %d", active)
	}
}

func TestConcurrentSubmissionsGetDistinctAttemptNumbers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.SubmitQuiz(ctx, alice(), "phishing-basics", app.SubmitRequest{Answers: phishingAnswers(1)}); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := f.store.Progress().Get(ctx, "alice", "phishing-basics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Attempts) != 10 {
		t.Fatalf("expected 10 attempts, got %d", len(p.Attempts))
	}
	for i, a := range p.Attempts {
		if a.AttemptNumber != i+1 {
			t.Fatalf("attempt %d numbered %d", i, a.AttemptNumber)
		}
	}
	user, _ := f.store.Users().Get(ctx, "alice")
	if user.TotalPoints != 100 {
		t.Fatalf("expected 100 points, got %d", user.TotalPoints)
	}
}

func TestExitActiveModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.StartModule(ctx, alice(), "phishing-basics"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.ExitActiveModule(ctx, "alice"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if _, err := f.svc.ActiveModule(ctx, "alice"); !errors.Is(err, domain.ErrNoActiveModule) {
		t.Fatalf("expected no active module, got %v", err)
	}
	if err := f.svc.ExitActiveModule(ctx, "alice"); err != nil {
		t.Fatalf("exit with nothing active: %v", err)
	}
	if err := f.svc.ExitActiveModule(ctx, "bob"); err != nil {
		t.Fatalf("exit for unknown user: %v", err)
	}
	if f.events.Actions()[audit.ActionModuleExited] != 1 {
		t.Fatalf("expected one exit event")
	}
}

func TestStartModuleEmitsStartedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.StartModule(ctx, alice(), "phishing-basics"); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
	}
	if n := f.events.Actions()[audit.ActionModuleStarted]; n != 1 {
		t.Fatalf("expected one started event, got %d", n)
	}

	if err := f.svc.ExitActiveModule(ctx, "alice"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if _, err := f.svc.StartModule(ctx, alice(), "phishing-basics"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if n := f.events.Actions()[audit.ActionModuleStarted]; n != 1 {
		t.Fatalf("resuming must not emit started again, got %d", n)
	}
}

func TestLevelPromotionAfterCompletingLevel(t *testing.T) {
	f := newFixture(t)

	res := submit(t, f, alice(), "phishing-basics", phishingAnswers(3))
	if res.LevelUp != "" {
		t.Fatalf("no promotion expected yet, got %s", res.LevelUp)
	}
	res = submit(t, f, alice(), "password-hygiene", passwordAnswers())
	if res.LevelUp != domain.LevelIntermediate {
		t.Fatalf("expected promotion to intermediate, got %q", res.LevelUp)
	}
	if res.Entry.CurrentLevel != domain.LevelIntermediate {
		t.Fatalf("expected leaderboard to carry new level, got %s", res.Entry.CurrentLevel)
	}
}

var errBoom = errors.New("boom")

type failingStore struct{ *memory.Store }

func (s failingStore) RunInTx(ctx context.Context, fn func(context.Context, app.Repositories) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx app.Repositories) error {
		return fn(ctx, failingRanks{tx})
	})
}

type failingRanks struct{ app.Repositories }

func (f failingRanks) Leaderboard() app.LeaderboardRepository {
	return failingBoard{f.Repositories.Leaderboard()}
}

type failingBoard struct{ app.LeaderboardRepository }

func (failingBoard) SaveRanks(context.Context, []domain.LeaderboardEntry) error { return errBoom }

func TestSubmitIsAtomic(t *testing.T) {
	f := newFixture(t, pointsBadge("points-10", 10, 1))
	ctx := context.Background()
	events := &audit.Recorder{}
	svc := app.NewService(app.Dependencies{
		Modules: memory.NewModuleRepository(memory.NewStaticModuleLoader(mustSample(t)), time.Minute),
		Store:   failingStore{f.store},
		Locker:  memory.NewKeyedMutex(),
		Audit:   audit.NewDispatcher(logger.Nop(), nil, events),
		Now:     f.clock.Now,
	}, app.Settings{})

	_, err := svc.SubmitQuiz(ctx, alice(), "phishing-basics", app.SubmitRequest{Answers: phishingAnswers(3)})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := f.store.Progress().Get(ctx, "alice", "phishing-basics"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected no progress after rollback, got %v", err)
	}
	if _, err := f.store.Users().Get(ctx, "alice"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected user creation rolled back, got %v", err)
	}
	if len(events.Events()) != 0 {
		t.Fatalf("expected no audit events on failure, got %d", len(events.Events()))
	}
}
