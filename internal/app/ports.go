package app

import (
	"context"
	"time"

	"cyberguard-progress-service/internal/domain"
)

// ModuleSource loads catalog content, usually through a cache.
type ModuleSource interface {
	GetModule(ctx context.Context, moduleID string) (domain.Module, error)
	ListModules(ctx context.Context) ([]domain.Module, error)
}

type UserRepository interface {
	// Ensure creates the user on first sight and refreshes a changed display name.
	Ensure(ctx context.Context, id domain.Identity) (domain.User, error)
	Get(ctx context.Context, userID string) (domain.User, error)
	// Lock serializes writers on the user row for the rest of the transaction.
	Lock(ctx context.Context, userID string) error
	// AddPoints applies points once per key. It reports whether the key was new.
	AddPoints(ctx context.Context, userID string, points int, key string) (bool, error)
	// AwardBadge reports false when the user already holds the badge.
	AwardBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error)
	SetLevel(ctx context.Context, userID string, level domain.Level) error
}

type ProgressRepository interface {
	Get(ctx context.Context, userID, moduleID string) (domain.Progress, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Progress, error)
	Active(ctx context.Context, userID string) (domain.Progress, error)
	// Save upserts the row and appends attempts it has not stored yet.
	Save(ctx context.Context, p domain.Progress) error
	DeactivateAll(ctx context.Context, userID string) (int, error)
}

type BadgeRepository interface {
	ListActive(ctx context.Context) ([]domain.Badge, error)
	Get(ctx context.Context, badgeID string) (domain.Badge, error)
	Upsert(ctx context.Context, badge domain.Badge) error
}

type LeaderboardRepository interface {
	Get(ctx context.Context, userID string) (domain.LeaderboardEntry, error)
	Upsert(ctx context.Context, entry domain.LeaderboardEntry) error
	All(ctx context.Context) ([]domain.LeaderboardEntry, error)
	SaveRanks(ctx context.Context, entries []domain.LeaderboardEntry) error
	// Page returns entries ordered by rank. An empty level means all users.
	Page(ctx context.Context, level domain.Level, offset, limit int) ([]domain.LeaderboardEntry, int, error)
	RankRange(ctx context.Context, from, to int) ([]domain.LeaderboardEntry, error)
	// LockRanking serializes recomputes until the transaction ends.
	LockRanking(ctx context.Context) error
}

type Repositories interface {
	Users() UserRepository
	Progress() ProgressRepository
	Badges() BadgeRepository
	Leaderboard() LeaderboardRepository
}

// Store hands out repositories and runs units of work. A failed fn rolls back every write it made.
type Store interface {
	Repositories
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

// Locker provides mutual exclusion on a key, possibly across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Broadcaster carries leaderboard snapshots to the feeds of every running instance.
type Broadcaster interface {
	Broadcast(ctx context.Context, snap domain.LeaderboardSnapshot) error
}

// Recorder receives domain metrics.
type Recorder interface {
	SubmissionGraded(passed bool)
	BadgeAwarded(badgeID string)
}

type nopRecorder struct{}

func (nopRecorder) SubmissionGraded(bool) {}
func (nopRecorder) BadgeAwarded(string)   {}
