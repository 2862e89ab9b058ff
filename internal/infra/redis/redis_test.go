package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/infra/memory"
	"cyberguard-progress-service/internal/logger"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestModuleRepositoryCachesInRedis(t *testing.T) {
	mr, client := newRedis(t)
	loader := &countingLoader{ModuleLoader: memory.NewStaticModuleLoader([]domain.Module{sampleModule()})}
	repo := NewModuleRepository(client, loader, time.Minute)
	ctx := context.Background()

	m, err := repo.GetModule(ctx, "phishing-basics")
	if err != nil {
		t.Fatalf("get module: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("module:phishing-basics") {
		t.Fatalf("expected module cached in redis")
	}
	if ttl := mr.TTL("module:phishing-basics"); ttl < time.Minute || ttl > 66*time.Second {
		t.Fatalf("expected jittered ttl, got %v", ttl)
	}

	cached, err := repo.GetModule(ctx, "phishing-basics")
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if cached.Questions[0].CorrectAnswer != m.Questions[0].CorrectAnswer || cached.Level != domain.LevelBeginner {
		t.Fatalf("cached module lost content: %+v", cached)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := repo.GetModule(ctx, "phishing-basics"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, got %d", loader.calls.Load())
	}
}

func TestModuleRepositoryMissIsNotCached(t *testing.T) {
	mr, client := newRedis(t)
	repo := NewModuleRepository(client, memory.NewStaticModuleLoader(nil), time.Minute)

	if _, err := repo.GetModule(context.Background(), "ghost"); !errors.Is(err, domain.ErrModuleNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if mr.Exists("module:ghost") {
		t.Fatalf("not found must not be cached")
	}
}

func TestModuleRepositoryListAndInvalidate(t *testing.T) {
	mr, client := newRedis(t)
	loader := &countingLoader{ModuleLoader: memory.NewStaticModuleLoader([]domain.Module{sampleModule()})}
	repo := NewModuleRepository(client, loader, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mods, err := repo.ListModules(ctx)
		if err != nil || len(mods) != 1 {
			t.Fatalf("list: %v %v", mods, err)
		}
	}
	if loader.listCalls.Load() != 1 {
		t.Fatalf("expected one list load, got %d", loader.listCalls.Load())
	}
	if err := repo.Invalidate(ctx, "phishing-basics"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("modules:all") {
		t.Fatalf("expected listing dropped")
	}
}

func TestModuleRepositoryFallsBackWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()
	repo := NewModuleRepository(client, memory.NewStaticModuleLoader([]domain.Module{sampleModule()}), time.Minute)
	if _, err := repo.GetModule(context.Background(), "phishing-basics"); err != nil {
		t.Fatalf("expected loader to serve while redis is down, got %v", err)
	}
}

func TestLockerExcludesAndReleases(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "submit:alice:phishing-basics")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("lock:submit:alice:phishing-basics") {
		t.Fatalf("expected lock key")
	}

	short, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(short, "submit:alice:phishing-basics"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected timeout while held, got %v", err)
	}

	unlock()
	if mr.Exists("lock:submit:alice:phishing-basics") {
		t.Fatalf("expected lock released")
	}
	unlock2, err := locker.Lock(ctx, "submit:alice:phishing-basics")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock2()
}

func TestLockerReleaseKeepsForeignToken(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client, time.Second)

	unlock, err := locker.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Simulate expiry followed by another holder.
	if err := mr.Set("lock:k", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	unlock()
	if got, _ := mr.Get("lock:k"); got != "someone-else" {
		t.Fatalf("release must not delete another holder's lock, got %q", got)
	}
}

func TestLockerSerializesCriticalSection(t *testing.T) {
	_, client := newRedis(t)
	locker := NewLocker(client, 5*time.Second)

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "shared")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen.Load())
	}
}

func TestRateLimiterWindow(t *testing.T) {
	mr, client := newRedis(t)
	limiter := NewRateLimiter(client, 2, time.Minute)
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := limiter.Allow(ctx, "submit:alice")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if ok != want {
			t.Fatalf("hit %d: expected %v", i+1, want)
		}
	}
	if ok, _ := limiter.Allow(ctx, "submit:bob"); !ok {
		t.Fatalf("keys must be counted independently")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := limiter.Allow(ctx, "submit:alice"); !ok {
		t.Fatalf("expected new window after expiry")
	}
}

func TestSnapshotRelayForwardsToFeed(t *testing.T) {
	_, client := newRedis(t)
	relay := NewSnapshotRelay(client, logger.Nop())
	feed := app.NewFeed()
	updates, cancel := feed.Subscribe(domain.LeaderboardSnapshot{})
	defer cancel()
	<-updates

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, feed) }()

	snap := domain.LeaderboardSnapshot{
		Entries:   []domain.LeaderboardEntry{{UserID: "alice", TotalPoints: 30, Rank: 1}},
		UpdatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	// Retry until the subscriber is attached.
	deadline := time.After(2 * time.Second)
	for {
		if err := relay.Broadcast(context.Background(), snap); err != nil {
			t.Fatalf("broadcast: %v", err)
		}
		select {
		case got := <-updates:
			if len(got.Entries) != 1 || got.Entries[0].UserID != "alice" || !got.UpdatedAt.Equal(snap.UpdatedAt) {
				t.Fatalf("unexpected snapshot %+v", got)
			}
			stop()
			if err := <-done; err != nil {
				t.Fatalf("run: %v", err)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("snapshot never relayed")
		}
	}
}

type countingLoader struct {
	ModuleLoader
	calls     atomic.Int32
	listCalls atomic.Int32
}

func (l *countingLoader) LoadModule(ctx context.Context, moduleID string) (domain.Module, error) {
	l.calls.Add(1)
	return l.ModuleLoader.LoadModule(ctx, moduleID)
}

func (l *countingLoader) LoadModules(ctx context.Context) ([]domain.Module, error) {
	l.listCalls.Add(1)
	return l.ModuleLoader.LoadModules(ctx)
}

func sampleModule() domain.Module {
	return domain.Module{
		ID:       "phishing-basics",
		Title:    "Phishing Basics",
		Level:    domain.LevelBeginner,
		IsActive: true,
		Questions: []domain.Question{
			{ID: "pb-1", Prompt: "Which sender is suspicious?", Options: []string{"a", "b", "c"}, CorrectAnswer: 1, Points: 10},
		},
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
