package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"cyberguard-progress-service/internal/domain"
)

// Ranker maintains leaderboard entries and their global ranks.
type Ranker struct {
	now func() time.Time
}

func NewRanker(now func() time.Time) *Ranker {
	if now == nil {
		now = time.Now
	}
	return &Ranker{now: now}
}

// Refresh snapshots the user into their entry and recomputes every rank.
// It must run inside a transaction.
func (r *Ranker) Refresh(ctx context.Context, tx Repositories, userID string) (domain.LeaderboardEntry, error) {
	lb := tx.Leaderboard()
	if err := lb.LockRanking(ctx); err != nil {
		return domain.LeaderboardEntry{}, err
	}
	user, err := tx.Users().Get(ctx, userID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	progress, err := tx.Progress().ListByUser(ctx, userID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	completed := 0
	for _, p := range progress {
		if p.Completed() {
			completed++
		}
	}

	now := r.now()
	entry, err := lb.Get(ctx, userID)
	isNew := errors.Is(err, domain.ErrRankNotFound)
	if err != nil && !isNew {
		return domain.LeaderboardEntry{}, err
	}
	if isNew {
		entry = domain.LeaderboardEntry{UserID: userID}
	}
	if isNew || entry.TotalPoints != user.TotalPoints {
		entry.PointsUpdatedAt = now
	}
	entry.DisplayName = user.DisplayName
	entry.TotalPoints = user.TotalPoints
	entry.CurrentLevel = user.CurrentLevel
	entry.BadgeCount = len(user.EarnedBadges)
	entry.ModulesCompleted = completed
	entry.LastActivityAt = now
	if err := lb.Upsert(ctx, entry); err != nil {
		return domain.LeaderboardEntry{}, err
	}

	all, err := lb.All(ctx)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	ranked := RankEntries(all)
	if err := lb.SaveRanks(ctx, ranked); err != nil {
		return domain.LeaderboardEntry{}, err
	}
	for _, e := range ranked {
		if e.UserID == userID {
			return e, nil
		}
	}
	return entry, nil
}

// RankEntries sorts by points desc, then earlier point change, then user id, and
// assigns ranks 1..N. PreviousRank holds the rank before this pass.
func RankEntries(entries []domain.LeaderboardEntry) []domain.LeaderboardEntry {
	out := append([]domain.LeaderboardEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		if !out[i].PointsUpdatedAt.Equal(out[j].PointsUpdatedAt) {
			return out[i].PointsUpdatedAt.Before(out[j].PointsUpdatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	for i := range out {
		newRank := i + 1
		prev := out[i].Rank
		if prev == 0 {
			prev = newRank
		}
		out[i].PreviousRank = prev
		out[i].RankChange = prev - newRank
		out[i].Rank = newRank
	}
	return out
}

// Stats summarizes the whole board.
func Stats(entries []domain.LeaderboardEntry) domain.LeaderboardStats {
	stats := domain.LeaderboardStats{
		TotalUsers:        len(entries),
		LevelDistribution: make(map[domain.Level]int, len(domain.Levels)),
	}
	for _, l := range domain.Levels {
		stats.LevelDistribution[l] = 0
	}
	if len(entries) == 0 {
		return stats
	}
	sum := 0
	var top *domain.LeaderboardEntry
	for i := range entries {
		e := entries[i]
		sum += e.TotalPoints
		stats.LevelDistribution[e.CurrentLevel]++
		if top == nil || e.Rank < top.Rank {
			top = &e
		}
	}
	stats.AveragePoints = (sum*2 + len(entries)) / (len(entries) * 2)
	stats.TopScorer = top
	return stats
}
