package app

import (
	"context"
	"errors"
	"math"

	"cyberguard-progress-service/internal/domain"
)

const maxPageSize = 100

// Leaderboard returns one page of the global ranking.
func (s *Service) Leaderboard(ctx context.Context, page, limit int) (domain.LeaderboardPage, error) {
	return s.leaderboardPage(ctx, "", page, limit)
}

func (s *Service) LeaderboardByLevel(ctx context.Context, level domain.Level, page, limit int) (domain.LeaderboardPage, error) {
	if !level.Valid() {
		verr := &domain.ValidationError{}
		verr.Add("level", "must be one of beginner, intermediate, advanced")
		return domain.LeaderboardPage{}, verr
	}
	return s.leaderboardPage(ctx, level, page, limit)
}

func (s *Service) leaderboardPage(ctx context.Context, level domain.Level, page, limit int) (domain.LeaderboardPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = s.settings.PageSize
	}
	limit = min(limit, maxPageSize)
	// Past this page the offset would overflow; every such page is empty anyway.
	page = min(page, math.MaxInt/limit)
	entries, total, err := s.store.Leaderboard().Page(ctx, level, (page-1)*limit, limit)
	if err != nil {
		return domain.LeaderboardPage{}, err
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	return domain.LeaderboardPage{Entries: entries, Pagination: domain.NewPagination(page, limit, total)}, nil
}

func (s *Service) TopPerformers(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	snap, err := s.snapshot(ctx)
	return snap.Entries, err
}

func (s *Service) LeaderboardStats(ctx context.Context) (domain.LeaderboardStats, error) {
	all, err := s.store.Leaderboard().All(ctx)
	if err != nil {
		return domain.LeaderboardStats{}, err
	}
	return Stats(all), nil
}

// MyEntry returns the caller's entry, creating and ranking it on first request.
func (s *Service) MyEntry(ctx context.Context, id domain.Identity) (domain.LeaderboardEntry, error) {
	entry, err := s.store.Leaderboard().Get(ctx, id.UserID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, domain.ErrRankNotFound) {
		return domain.LeaderboardEntry{}, err
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		if _, err := tx.Users().Ensure(ctx, id); err != nil {
			return err
		}
		e, err := s.ranker.Refresh(ctx, tx, id.UserID)
		entry = e
		return err
	})
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	s.publishLeaderboard(ctx)
	return entry, nil
}

type RankInfo struct {
	Rank         int `json:"rank"`
	PreviousRank int `json:"previousRank"`
	RankChange   int `json:"rankChange"`
	TotalPoints  int `json:"totalPoints"`
	TotalUsers   int `json:"totalUsers"`
}

func (s *Service) MyRank(ctx context.Context, userID string) (RankInfo, error) {
	entry, err := s.store.Leaderboard().Get(ctx, userID)
	if err != nil {
		return RankInfo{}, err
	}
	_, total, err := s.store.Leaderboard().Page(ctx, "", 0, 1)
	if err != nil {
		return RankInfo{}, err
	}
	return RankInfo{
		Rank:         entry.Rank,
		PreviousRank: entry.PreviousRank,
		RankChange:   entry.RankChange,
		TotalPoints:  entry.TotalPoints,
		TotalUsers:   total,
	}, nil
}

// NearMe returns the entries within the configured radius of the user's rank.
func (s *Service) NearMe(ctx context.Context, userID string) ([]domain.LeaderboardEntry, error) {
	entry, err := s.store.Leaderboard().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	from := entry.Rank - s.settings.NearRadius
	if from < 1 {
		from = 1
	}
	return s.store.Leaderboard().RankRange(ctx, from, entry.Rank+s.settings.NearRadius)
}

// SubscribeLeaderboard streams top-of-board snapshots. The cancel func must be called.
func (s *Service) SubscribeLeaderboard(ctx context.Context) (<-chan domain.LeaderboardSnapshot, func(), error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.feed.Subscribe(snap)
	return ch, cancel, nil
}
