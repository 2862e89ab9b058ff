package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
)

func TestStoreRollsBackFailedTransaction(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	if _, err := store.Users().Ensure(ctx, domain.Identity{UserID: "u1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx app.Repositories) error {
		if _, err := tx.Users().AddPoints(ctx, "u1", 50, "attempt:u1:m1:1"); err != nil {
			return err
		}
		if err := tx.Progress().Save(ctx, domain.NewProgress("u1", "m1", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	user, err := store.Users().Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.TotalPoints != 0 {
		t.Fatalf("expected points rolled back, got %d", user.TotalPoints)
	}
	if _, err := store.Progress().Get(ctx, "u1", "m1"); !errors.Is(err, domain.ErrProgressNotFound) {
		t.Fatalf("expected progress rolled back, got %v", err)
	}
	// The rolled back key must be usable again.
	applied, err := store.Users().AddPoints(ctx, "u1", 50, "attempt:u1:m1:1")
	if err != nil || !applied {
		t.Fatalf("expected key applied after rollback, applied=%v err=%v", applied, err)
	}
}

func TestStoreAddPointsIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, _ = store.Users().Ensure(ctx, domain.Identity{UserID: "u1"})

	for i := 0; i < 3; i++ {
		if _, err := store.Users().AddPoints(ctx, "u1", 10, "k1"); err != nil {
			t.Fatalf("add points: %v", err)
		}
	}
	user, _ := store.Users().Get(ctx, "u1")
	if user.TotalPoints != 10 {
		t.Fatalf("expected 10 points, got %d", user.TotalPoints)
	}
}

func TestStoreAwardBadgeOnce(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, _ = store.Users().Ensure(ctx, domain.Identity{UserID: "u1"})

	first, _ := store.Users().AwardBadge(ctx, "u1", "points-100", time.Now())
	second, _ := store.Users().AwardBadge(ctx, "u1", "points-100", time.Now())
	if !first || second {
		t.Fatalf("expected award once, got first=%v second=%v", first, second)
	}
}

func TestStoreRejectsSecondActiveModule(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	a := domain.NewProgress("u1", "m1", now)
	a.Activate(now)
	if err := store.Progress().Save(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	b := domain.NewProgress("u1", "m2", now)
	b.Activate(now)
	if err := store.Progress().Save(ctx, b); !errors.Is(err, domain.ErrActiveModuleConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	n, err := store.Progress().DeactivateAll(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 deactivated, got %d err=%v", n, err)
	}
	if _, err := store.Progress().Active(ctx, "u1"); !errors.Is(err, domain.ErrNoActiveModule) {
		t.Fatalf("expected no active module, got %v", err)
	}
}

func TestLeaderboardPaging(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	levels := []domain.Level{domain.LevelBeginner, domain.LevelAdvanced, domain.LevelBeginner}
	for i, id := range []string{"a", "b", "c"} {
		_ = store.Leaderboard().Upsert(ctx, domain.LeaderboardEntry{UserID: id, Rank: i + 1, CurrentLevel: levels[i]})
	}

	page, total, err := store.Leaderboard().Page(ctx, "", 1, 1)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if total != 3 || len(page) != 1 || page[0].UserID != "b" {
		t.Fatalf("unexpected page %+v total %d", page, total)
	}

	beginners, total, _ := store.Leaderboard().Page(ctx, domain.LevelBeginner, 0, 10)
	if total != 2 || beginners[0].UserID != "a" || beginners[1].UserID != "c" {
		t.Fatalf("unexpected level page %+v", beginners)
	}

	near, _ := store.Leaderboard().RankRange(ctx, 2, 3)
	if len(near) != 2 || near[0].Rank != 2 {
		t.Fatalf("unexpected range %+v", near)
	}

	for _, bounds := range [][2]int{{-4, 4}, {2, math.MaxInt}, {math.MaxInt, 1}} {
		out, total, err := store.Leaderboard().Page(ctx, "", bounds[0], bounds[1])
		if err != nil || total != 3 {
			t.Fatalf("page %v: %v total %d", bounds, err, total)
		}
		if bounds[0] < 0 && len(out) != 0 {
			t.Fatalf("negative offset must be out of range, got %+v", out)
		}
		if bounds[0] == 2 && (len(out) != 1 || out[0].UserID != "c") {
			t.Fatalf("unexpected tail page %+v", out)
		}
	}
}
