package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
)

// Store is an in-process app.Store. Transactions are serialized and roll back by
// restoring a snapshot taken before the unit of work.
type Store struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

type state struct {
	users    map[string]domain.User
	ledger   map[string]struct{}
	progress map[string]domain.Progress
	badges   map[string]domain.Badge
	entries  map[string]domain.LeaderboardEntry
}

func newState() *state {
	return &state{
		users:    make(map[string]domain.User),
		ledger:   make(map[string]struct{}),
		progress: make(map[string]domain.Progress),
		badges:   make(map[string]domain.Badge),
		entries:  make(map[string]domain.LeaderboardEntry),
	}
}

// clone copies the maps. Values are never mutated in place, so sharing their slices is safe.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k := range s.ledger {
		c.ledger[k] = struct{}{}
	}
	for k, v := range s.progress {
		c.progress[k] = v
	}
	for k, v := range s.badges {
		c.badges[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{state: newState(), now: now}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := s.state.clone()
	if err := fn(ctx, view{store: s, tx: true}); err != nil {
		s.state = backup
		return err
	}
	return nil
}

func (s *Store) Users() app.UserRepository              { return userRepo{view{store: s}} }
func (s *Store) Progress() app.ProgressRepository       { return progressRepo{view{store: s}} }
func (s *Store) Badges() app.BadgeRepository            { return badgeRepo{view{store: s}} }
func (s *Store) Leaderboard() app.LeaderboardRepository { return leaderboardRepo{view{store: s}} }

// view binds repositories to the store. Inside a transaction the store lock is already held.
type view struct {
	store *Store
	tx    bool
}

func (v view) Users() app.UserRepository              { return userRepo{v} }
func (v view) Progress() app.ProgressRepository       { return progressRepo{v} }
func (v view) Badges() app.BadgeRepository            { return badgeRepo{v} }
func (v view) Leaderboard() app.LeaderboardRepository { return leaderboardRepo{v} }

func (v view) read(fn func(st *state)) {
	if !v.tx {
		v.store.mu.RLock()
		defer v.store.mu.RUnlock()
	}
	fn(v.store.state)
}

func (v view) write(fn func(st *state)) {
	if !v.tx {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	fn(v.store.state)
}

type userRepo struct{ view }

func (r userRepo) Ensure(_ context.Context, id domain.Identity) (domain.User, error) {
	var out domain.User
	r.write(func(st *state) {
		u, ok := st.users[id.UserID]
		if !ok {
			u = domain.User{
				ID:           id.UserID,
				DisplayName:  id.DisplayName,
				CurrentLevel: domain.LevelBeginner,
				CreatedAt:    r.store.now(),
			}
		} else if id.DisplayName != "" && id.DisplayName != u.DisplayName {
			u.DisplayName = id.DisplayName
		}
		st.users[id.UserID] = u
		out = u
	})
	return out, nil
}

func (r userRepo) Get(_ context.Context, userID string) (domain.User, error) {
	var (
		out domain.User
		ok  bool
	)
	r.read(func(st *state) { out, ok = st.users[userID] })
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return out, nil
}

// Lock is a no-op: transactions already run one at a time.
func (r userRepo) Lock(context.Context, string) error { return nil }

func (r userRepo) AddPoints(_ context.Context, userID string, points int, key string) (bool, error) {
	var (
		applied bool
		err     error
	)
	r.write(func(st *state) {
		if _, dup := st.ledger[key]; dup {
			return
		}
		u, ok := st.users[userID]
		if !ok {
			err = domain.ErrUserNotFound
			return
		}
		u.TotalPoints += points
		st.users[userID] = u
		st.ledger[key] = struct{}{}
		applied = true
	})
	return applied, err
}

func (r userRepo) AwardBadge(_ context.Context, userID, badgeID string, at time.Time) (bool, error) {
	var (
		added bool
		err   error
	)
	r.write(func(st *state) {
		u, ok := st.users[userID]
		if !ok {
			err = domain.ErrUserNotFound
			return
		}
		if u.HasBadge(badgeID) {
			return
		}
		badges := make([]domain.EarnedBadge, 0, len(u.EarnedBadges)+1)
		badges = append(badges, u.EarnedBadges...)
		u.EarnedBadges = append(badges, domain.EarnedBadge{BadgeID: badgeID, EarnedAt: at})
		st.users[userID] = u
		added = true
	})
	return added, err
}

func (r userRepo) SetLevel(_ context.Context, userID string, level domain.Level) error {
	var err error
	r.write(func(st *state) {
		u, ok := st.users[userID]
		if !ok {
			err = domain.ErrUserNotFound
			return
		}
		u.CurrentLevel = level
		st.users[userID] = u
	})
	return err
}

type progressRepo struct{ view }

func progressKey(userID, moduleID string) string { return userID + "\x00" + moduleID }

func (r progressRepo) Get(_ context.Context, userID, moduleID string) (domain.Progress, error) {
	var (
		p  domain.Progress
		ok bool
	)
	r.read(func(st *state) { p, ok = st.progress[progressKey(userID, moduleID)] })
	if !ok {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	return p, nil
}

func (r progressRepo) ListByUser(_ context.Context, userID string) ([]domain.Progress, error) {
	out := []domain.Progress{}
	r.read(func(st *state) {
		for _, p := range st.progress {
			if p.UserID == userID {
				out = append(out, p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out, nil
}

func (r progressRepo) Active(_ context.Context, userID string) (domain.Progress, error) {
	var (
		out   domain.Progress
		found bool
	)
	r.read(func(st *state) {
		for _, p := range st.progress {
			if p.UserID == userID && p.IsActive {
				out, found = p, true
				return
			}
		}
	})
	if !found {
		return domain.Progress{}, domain.ErrNoActiveModule
	}
	return out, nil
}

// Save rejects a second active module for the same user.
func (r progressRepo) Save(_ context.Context, p domain.Progress) error {
	var err error
	r.write(func(st *state) {
		if p.IsActive {
			for _, other := range st.progress {
				if other.UserID == p.UserID && other.ModuleID != p.ModuleID && other.IsActive {
					err = domain.ErrActiveModuleConflict
					return
				}
			}
		}
		p.Attempts = append([]domain.Attempt(nil), p.Attempts...)
		st.progress[progressKey(p.UserID, p.ModuleID)] = p
	})
	return err
}

func (r progressRepo) DeactivateAll(_ context.Context, userID string) (int, error) {
	n := 0
	r.write(func(st *state) {
		for k, p := range st.progress {
			if p.UserID == userID && p.IsActive {
				p.IsActive = false
				st.progress[k] = p
				n++
			}
		}
	})
	return n, nil
}

type badgeRepo struct{ view }

func (r badgeRepo) ListActive(context.Context) ([]domain.Badge, error) {
	out := []domain.Badge{}
	r.read(func(st *state) {
		for _, b := range st.badges {
			if b.IsActive {
				out = append(out, b)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r badgeRepo) Get(_ context.Context, badgeID string) (domain.Badge, error) {
	var (
		b  domain.Badge
		ok bool
	)
	r.read(func(st *state) { b, ok = st.badges[badgeID] })
	if !ok {
		return domain.Badge{}, domain.ErrBadgeNotFound
	}
	return b, nil
}

func (r badgeRepo) Upsert(_ context.Context, b domain.Badge) error {
	if b.Criterion == nil {
		return domain.ErrUnknownCriterion
	}
	r.write(func(st *state) { st.badges[b.ID] = b })
	return nil
}

type leaderboardRepo struct{ view }

func (r leaderboardRepo) Get(_ context.Context, userID string) (domain.LeaderboardEntry, error) {
	var (
		e  domain.LeaderboardEntry
		ok bool
	)
	r.read(func(st *state) { e, ok = st.entries[userID] })
	if !ok {
		return domain.LeaderboardEntry{}, domain.ErrRankNotFound
	}
	return e, nil
}

func (r leaderboardRepo) Upsert(_ context.Context, e domain.LeaderboardEntry) error {
	r.write(func(st *state) { st.entries[e.UserID] = e })
	return nil
}

func (r leaderboardRepo) All(context.Context) ([]domain.LeaderboardEntry, error) {
	out := []domain.LeaderboardEntry{}
	r.read(func(st *state) {
		for _, e := range st.entries {
			out = append(out, e)
		}
	})
	sortByRank(out)
	return out, nil
}

func (r leaderboardRepo) SaveRanks(_ context.Context, ranked []domain.LeaderboardEntry) error {
	r.write(func(st *state) {
		for _, e := range ranked {
			cur, ok := st.entries[e.UserID]
			if !ok {
				continue
			}
			cur.Rank, cur.PreviousRank, cur.RankChange = e.Rank, e.PreviousRank, e.RankChange
			st.entries[e.UserID] = cur
		}
	})
	return nil
}

func (r leaderboardRepo) Page(ctx context.Context, level domain.Level, offset, limit int) ([]domain.LeaderboardEntry, int, error) {
	all, _ := r.All(ctx)
	filtered := all[:0]
	for _, e := range all {
		if level == "" || e.CurrentLevel == level {
			filtered = append(filtered, e)
		}
	}
	total := len(filtered)
	if offset < 0 || offset >= total || limit <= 0 {
		return []domain.LeaderboardEntry{}, total, nil
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	return filtered[offset:end], total, nil
}

func (r leaderboardRepo) RankRange(ctx context.Context, from, to int) ([]domain.LeaderboardEntry, error) {
	all, _ := r.All(ctx)
	out := []domain.LeaderboardEntry{}
	for _, e := range all {
		if e.Rank >= from && e.Rank <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r leaderboardRepo) LockRanking(context.Context) error { return nil }

func sortByRank(entries []domain.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := entries[i].Rank, entries[j].Rank
		if (ri == 0) != (rj == 0) {
			return rj == 0
		}
		if ri != rj {
			return ri < rj
		}
		return entries[i].UserID < entries[j].UserID
	})
}
