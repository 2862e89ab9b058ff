package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
)

func TestRankEntriesOrderingAndChanges(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []domain.LeaderboardEntry{
		{UserID: "c", TotalPoints: 50, PointsUpdatedAt: t0, Rank: 1},
		{UserID: "a", TotalPoints: 80, PointsUpdatedAt: t0.Add(time.Minute), Rank: 2},
		{UserID: "b", TotalPoints: 80, PointsUpdatedAt: t0, Rank: 3},
		{UserID: "d", TotalPoints: 50, PointsUpdatedAt: t0},
	}
	ranked := app.RankEntries(entries)

	wantOrder := []string{"b", "a", "c", "d"}
	for i, e := range ranked {
		if e.UserID != wantOrder[i] || e.Rank != i+1 {
			t.Fatalf("position %d: expected %s rank %d, got %+v", i, wantOrder[i], i+1, e)
		}
	}
	if ranked[0].PreviousRank != 3 || ranked[0].RankChange != 2 {
		t.Fatalf("unexpected b movement %+v", ranked[0])
	}
	if ranked[2].PreviousRank != 1 || ranked[2].RankChange != -2 {
		t.Fatalf("unexpected c movement %+v", ranked[2])
	}
	if ranked[3].PreviousRank != 4 || ranked[3].RankChange != 0 {
		t.Fatalf("new entry should start with no movement, got %+v", ranked[3])
	}
	if entries[0].Rank != 1 {
		t.Fatalf("input must not be mutated")
	}
}

func TestStats(t *testing.T) {
	stats := app.Stats([]domain.LeaderboardEntry{
		{UserID: "a", TotalPoints: 10, CurrentLevel: domain.LevelBeginner, Rank: 2},
		{UserID: "b", TotalPoints: 21, CurrentLevel: domain.LevelAdvanced, Rank: 1},
	})
	if stats.TotalUsers != 2 || stats.AveragePoints != 16 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.TopScorer == nil || stats.TopScorer.UserID != "b" {
		t.Fatalf("expected b top scorer, got %+v", stats.TopScorer)
	}
	if stats.LevelDistribution[domain.LevelIntermediate] != 0 || stats.LevelDistribution[domain.LevelAdvanced] != 1 {
		t.Fatalf("unexpected distribution %+v", stats.LevelDistribution)
	}
	if empty := app.Stats(nil); empty.TopScorer != nil || empty.TotalUsers != 0 {
		t.Fatalf("unexpected empty stats %+v", empty)
	}
}

func TestLeaderboardReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.MyRank(ctx, "alice"); !errors.Is(err, domain.ErrRankNotFound) {
		t.Fatalf("expected rank not found before any activity, got %v", err)
	}
	entry, err := f.svc.MyEntry(ctx, alice())
	if err != nil {
		t.Fatalf("my entry: %v", err)
	}
	if entry.Rank != 1 || entry.DisplayName != "Alice" {
		t.Fatalf("expected lazily created entry, got %+v", entry)
	}

	for i, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
		f.clock.Advance(time.Second)
		submit(t, f, domain.Identity{UserID: id, DisplayName: id}, "phishing-basics", phishingAnswers(1+i%3))
	}

	rank, err := f.svc.MyRank(ctx, "alice")
	if err != nil {
		t.Fatalf("my rank: %v", err)
	}
	if rank.Rank != 9 || rank.TotalUsers != 9 {
		t.Fatalf("expected alice last of 9, got %+v", rank)
	}

	near, err := f.svc.NearMe(ctx, "alice")
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if len(near) != 6 || near[0].Rank != 4 || near[len(near)-1].Rank != 9 {
		t.Fatalf("expected ranks 4..9, got %+v", near)
	}

	top, err := f.svc.TopPerformers(ctx)
	if err != nil || len(top) != 9 {
		t.Fatalf("expected all 9 in top 10, got %d err=%v", len(top), err)
	}

	page, err := f.svc.Leaderboard(ctx, 2, 4)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	p := page.Pagination
	if len(page.Entries) != 4 || p.Total != 9 || p.Pages != 3 || !p.HasNext || !p.HasPrev || page.Entries[0].Rank != 5 {
		t.Fatalf("unexpected page %+v", page)
	}

	byLevel, err := f.svc.LeaderboardByLevel(ctx, domain.LevelBeginner, 1, 0)
	if err != nil || byLevel.Pagination.Total != 9 || byLevel.Pagination.Limit != 50 {
		t.Fatalf("unexpected level page %+v err=%v", byLevel.Pagination, err)
	}
	if _, err := f.svc.LeaderboardByLevel(ctx, "expert", 1, 10); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown level, got %v", err)
	}

	stats, err := f.svc.LeaderboardStats(ctx)
	if err != nil || stats.TotalUsers != 9 {
		t.Fatalf("unexpected stats %+v err=%v", stats, err)
	}
}

func TestFeedReceivesSnapshotsAfterSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updates, cancel, err := f.svc.SubscribeLeaderboard(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-updates
	if len(initial.Entries) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", initial)
	}

	submit(t, f, alice(), "phishing-basics", phishingAnswers(3))
	select {
	case snap := <-updates:
		if len(snap.Entries) != 1 || snap.Entries[0].UserID != "alice" {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected snapshot after submit")
	}
}

func TestFeedDropsStaleSnapshots(t *testing.T) {
	feed := app.NewFeed()
	ch, cancel := feed.Subscribe(domain.LeaderboardSnapshot{})
	for i := 0; i < 20; i++ {
		feed.Publish(domain.LeaderboardSnapshot{Entries: []domain.LeaderboardEntry{{Rank: i}}})
	}
	var last domain.LeaderboardSnapshot
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Entries[0].Rank != 19 {
		t.Fatalf("expected newest snapshot delivered, got %+v", last)
	}
	cancel()
	cancel()
	if feed.Subscribers() != 0 {
		t.Fatalf("expected subscriber removed")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed")
	}
}
