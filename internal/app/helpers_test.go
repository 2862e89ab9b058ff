package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/audit"
	"cyberguard-progress-service/internal/catalog"
	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/infra/memory"
	"cyberguard-progress-service/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *app.Service
	store  *memory.Store
	events *audit.Recorder
	clock  *fakeClock
	feed   *app.Feed
}

func newFixture(t *testing.T, badges ...domain.Badge) *fixture {
	t.Helper()
	mods, err := catalog.SampleModules()
	if err != nil {
		t.Fatalf("sample modules: %v", err)
	}
	return newFixtureWithModules(t, mods, badges...)
}

func newFixtureWithModules(t *testing.T, mods []domain.Module, badges ...domain.Badge) *fixture {
	t.Helper()
	clock := newClock()
	store := memory.NewStoreWithClock(clock.Now)
	for _, b := range badges {
		if err := store.Badges().Upsert(context.Background(), b); err != nil {
			t.Fatalf("seed badge: %v", err)
		}
	}
	events := &audit.Recorder{}
	feed := app.NewFeed()
	svc := app.NewService(app.Dependencies{
		Modules: memory.NewModuleRepository(memory.NewStaticModuleLoader(mods), time.Minute),
		Store:   store,
		Locker:  memory.NewKeyedMutex(),
		Audit:   audit.NewDispatcher(logger.Nop(), nil, events),
		Feed:    feed,
		Log:     logger.Nop(),
		Now:     clock.Now,
	}, app.Settings{PassThreshold: 70})
	return &fixture{svc: svc, store: store, events: events, clock: clock, feed: feed}
}

func alice() domain.Identity { return domain.Identity{UserID: "alice", DisplayName: "Alice"} }
func bob() domain.Identity   { return domain.Identity{UserID: "bob", DisplayName: "Bob"} }

// phishingAnswers answers the phishing-basics module with the first n answers correct
// and the rest wrong.
func phishingAnswers(correct int) []domain.Answer {
	right := []domain.Answer{
		{QuestionID: "pb-1", SelectedAnswer: 1},
		{QuestionID: "pb-2", SelectedAnswer: 2},
		{QuestionID: "pb-3", SelectedAnswer: 1},
	}
	out := make([]domain.Answer, len(right))
	for i, a := range right {
		if i >= correct {
			a.SelectedAnswer = 0
		}
		out[i] = a
	}
	return out
}

func passwordAnswers() []domain.Answer {
	return []domain.Answer{
		{QuestionID: "ph-1", SelectedAnswer: 1},
		{QuestionID: "ph-2", SelectedAnswer: 1},
		{QuestionID: "ph-3", SelectedAnswer: 0},
	}
}

func pointsBadge(id string, points, order int) domain.Badge {
	return domain.Badge{
		ID: id, Name: id, Category: domain.CategoryMilestone, Level: domain.BadgeLevelAll,
		Criterion: domain.PointsEarned{Points: points}, IsActive: true, Order: order,
	}
}

func submit(t *testing.T, f *fixture, id domain.Identity, moduleID string, answers []domain.Answer) app.SubmitResult {
	t.Helper()
	res, err := f.svc.SubmitQuiz(context.Background(), id, moduleID, app.SubmitRequest{Answers: answers, Duration: 600})
	if err != nil {
		t.Fatalf("submit %s: %v", moduleID, err)
	}
	return res
}

func mustSample(t *testing.T) []domain.Module {
	t.Helper()
	mods, err := catalog.SampleModules()
	if err != nil {
		t.Fatalf("sample modules: %v", err)
	}
	return mods
}
