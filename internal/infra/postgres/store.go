package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// rankingLockKey is the advisory lock id that serializes leaderboard recomputes.
const rankingLockKey = 7_391_204

const activeIndex = "progress_one_active_per_user"

// Store implements app.Store on Postgres through bun.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Repositories) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, repos{db: tx, now: s.now, inTx: true})
	})
}

func (s *Store) Users() app.UserRepository              { return s.repos().Users() }
func (s *Store) Progress() app.ProgressRepository       { return s.repos().Progress() }
func (s *Store) Badges() app.BadgeRepository            { return s.repos().Badges() }
func (s *Store) Leaderboard() app.LeaderboardRepository { return s.repos().Leaderboard() }

func (s *Store) repos() repos { return repos{db: s.db, now: s.now} }

type repos struct {
	db   bun.IDB
	now  func() time.Time
	inTx bool
}

func (r repos) Users() app.UserRepository              { return userRepo{r} }
func (r repos) Progress() app.ProgressRepository       { return progressRepo{r} }
func (r repos) Badges() app.BadgeRepository            { return badgeRepo{r} }
func (r repos) Leaderboard() app.LeaderboardRepository { return leaderboardRepo{r} }

type userRepo struct{ repos }

func (r userRepo) Ensure(ctx context.Context, id domain.Identity) (domain.User, error) {
	m := userModel{
		ID:           id.UserID,
		DisplayName:  id.DisplayName,
		CurrentLevel: string(domain.LevelBeginner),
		CreatedAt:    r.now(),
	}
	_, err := r.db.NewInsert().Model(&m).
		On("CONFLICT (id) DO UPDATE").
		Set("display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), u.display_name)").
		Exec(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("ensure user: %w", err)
	}
	return r.Get(ctx, id.UserID)
}

func (r userRepo) Get(ctx context.Context, userID string) (domain.User, error) {
	var m userModel
	err := r.db.NewSelect().Model(&m).
		Relation("Badges", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("ub.earned_at", "ub.badge_id")
		}).
		Where("u.id = ?", userID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return m.toDomain(), nil
}

func (r userRepo) Lock(ctx context.Context, userID string) error {
	var id string
	err := r.db.NewSelect().Model((*userModel)(nil)).
		Column("id").
		Where("id = ?", userID).
		For("UPDATE").
		Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

func (r userRepo) AddPoints(ctx context.Context, userID string, points int, key string) (bool, error) {
	res, err := r.db.NewInsert().
		Model(&ledgerModel{Key: key, UserID: userID, Points: points, CreatedAt: r.now()}).
		On("CONFLICT (key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("record points: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	res, err = r.db.NewUpdate().Model((*userModel)(nil)).
		Set("total_points = total_points + ?", points).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("add points: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, domain.ErrUserNotFound
	}
	return true, nil
}

func (r userRepo) AwardBadge(ctx context.Context, userID, badgeID string, at time.Time) (bool, error) {
	res, err := r.db.NewInsert().
		Model(&userBadgeModel{UserID: userID, BadgeID: badgeID, EarnedAt: at}).
		On("CONFLICT (user_id, badge_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("award badge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r userRepo) SetLevel(ctx context.Context, userID string, level domain.Level) error {
	res, err := r.db.NewUpdate().Model((*userModel)(nil)).
		Set("current_level = ?", string(level)).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

type progressRepo struct{ repos }

func (r progressRepo) selectProgress(m interface{}) *bun.SelectQuery {
	return r.db.NewSelect().Model(m).
		Relation("Attempts", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("a.attempt_number")
		})
}

func (r progressRepo) Get(ctx context.Context, userID, moduleID string) (domain.Progress, error) {
	var m progressModel
	q := r.selectProgress(&m).Where("p.user_id = ? AND p.module_id = ?", userID, moduleID)
	if r.inTx {
		q = q.For("UPDATE OF p")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, domain.ErrProgressNotFound
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("get progress: %w", err)
	}
	return m.toDomain(), nil
}

func (r progressRepo) ListByUser(ctx context.Context, userID string) ([]domain.Progress, error) {
	var models []progressModel
	err := r.selectProgress(&models).
		Where("p.user_id = ?", userID).
		Order("p.module_id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	out := make([]domain.Progress, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r progressRepo) Active(ctx context.Context, userID string) (domain.Progress, error) {
	var m progressModel
	err := r.selectProgress(&m).Where("p.user_id = ? AND p.is_active", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Progress{}, domain.ErrNoActiveModule
	}
	if err != nil {
		return domain.Progress{}, fmt.Errorf("active progress: %w", err)
	}
	return m.toDomain(), nil
}

func (r progressRepo) Save(ctx context.Context, p domain.Progress) error {
	m := newProgressModel(p)
	_, err := r.db.NewInsert().Model(&m).
		On("CONFLICT (user_id, module_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("best_score = EXCLUDED.best_score").
		Set("best_attempt = EXCLUDED.best_attempt").
		Set("total_points_earned = EXCLUDED.total_points_earned").
		Set("is_active = EXCLUDED.is_active").
		Set("time_spent = EXCLUDED.time_spent").
		Set("started_at = EXCLUDED.started_at").
		Set("completed_at = EXCLUDED.completed_at").
		Set("last_accessed_at = EXCLUDED.last_accessed_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, activeIndex) {
			return domain.ErrActiveModuleConflict
		}
		return fmt.Errorf("save progress: %w", err)
	}
	if len(p.Attempts) == 0 {
		return nil
	}
	attempts := make([]attemptModel, 0, len(p.Attempts))
	for _, a := range p.Attempts {
		attempts = append(attempts, newAttemptModel(m.ID, a))
	}
	// Attempts are immutable, so rows already stored are left alone.
	if _, err := r.db.NewInsert().Model(&attempts).
		On("CONFLICT (progress_id, attempt_number) DO NOTHING").
		Exec(ctx); err != nil {
		return fmt.Errorf("save attempts: %w", err)
	}
	return nil
}

func (r progressRepo) DeactivateAll(ctx context.Context, userID string) (int, error) {
	res, err := r.db.NewUpdate().Model((*progressModel)(nil)).
		Set("is_active = FALSE").
		Where("user_id = ? AND is_active", userID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("deactivate progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type badgeRepo struct{ repos }

func (r badgeRepo) ListActive(ctx context.Context) ([]domain.Badge, error) {
	var models []badgeModel
	if err := r.db.NewSelect().Model(&models).
		Where("is_active").
		Order("ord", "id").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list badges: %w", err)
	}
	out := make([]domain.Badge, 0, len(models))
	for _, m := range models {
		b, err := m.toDomain()
		if err != nil {
			return nil, fmt.Errorf("badge %s: %w", m.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (r badgeRepo) Get(ctx context.Context, badgeID string) (domain.Badge, error) {
	var m badgeModel
	err := r.db.NewSelect().Model(&m).Where("id = ?", badgeID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Badge{}, domain.ErrBadgeNotFound
	}
	if err != nil {
		return domain.Badge{}, fmt.Errorf("get badge: %w", err)
	}
	return m.toDomain()
}

func (r badgeRepo) Upsert(ctx context.Context, b domain.Badge) error {
	if b.Criterion == nil {
		return fmt.Errorf("badge %s: %w", b.ID, domain.ErrUnknownCriterion)
	}
	m := newBadgeModel(b)
	_, err := r.db.NewInsert().Model(&m).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("description = EXCLUDED.description").
		Set("icon = EXCLUDED.icon").
		Set("category = EXCLUDED.category").
		Set("level = EXCLUDED.level").
		Set("criteria = EXCLUDED.criteria").
		Set("rarity = EXCLUDED.rarity").
		Set("points = EXCLUDED.points").
		Set("is_active = EXCLUDED.is_active").
		Set("ord = EXCLUDED.ord").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert badge: %w", err)
	}
	return nil
}

type leaderboardRepo struct{ repos }

func (r leaderboardRepo) Get(ctx context.Context, userID string) (domain.LeaderboardEntry, error) {
	var m entryModel
	err := r.db.NewSelect().Model(&m).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LeaderboardEntry{}, domain.ErrRankNotFound
	}
	if err != nil {
		return domain.LeaderboardEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return m.toDomain(), nil
}

// Upsert writes the snapshot fields. Ranks are only written by SaveRanks.
func (r leaderboardRepo) Upsert(ctx context.Context, e domain.LeaderboardEntry) error {
	m := newEntryModel(e)
	_, err := r.db.NewInsert().Model(&m).
		On("CONFLICT (user_id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("total_points = EXCLUDED.total_points").
		Set("current_level = EXCLUDED.current_level").
		Set("badge_count = EXCLUDED.badge_count").
		Set("modules_completed = EXCLUDED.modules_completed").
		Set("last_activity_at = EXCLUDED.last_activity_at").
		Set("points_updated_at = EXCLUDED.points_updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (r leaderboardRepo) ordered(models *[]entryModel) *bun.SelectQuery {
	return r.db.NewSelect().Model(models).OrderExpr("rank = 0, rank, user_id")
}

func (r leaderboardRepo) All(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	var models []entryModel
	if err := r.ordered(&models).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entriesToDomain(models), nil
}

func (r leaderboardRepo) SaveRanks(ctx context.Context, entries []domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]entryModel, 0, len(entries))
	for _, e := range entries {
		models = append(models, newEntryModel(e))
	}
	if _, err := r.db.NewUpdate().Model(&models).
		Column("rank", "previous_rank", "rank_change").
		Bulk().
		Exec(ctx); err != nil {
		return fmt.Errorf("save ranks: %w", err)
	}
	return nil
}

func (r leaderboardRepo) Page(ctx context.Context, level domain.Level, offset, limit int) ([]domain.LeaderboardEntry, int, error) {
	var models []entryModel
	q := r.ordered(&models).Offset(offset).Limit(limit)
	if level != "" {
		q = q.Where("current_level = ?", string(level))
	}
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("page entries: %w", err)
	}
	return entriesToDomain(models), total, nil
}

func (r leaderboardRepo) RankRange(ctx context.Context, from, to int) ([]domain.LeaderboardEntry, error) {
	var models []entryModel
	if err := r.ordered(&models).Where("rank BETWEEN ? AND ?", from, to).Scan(ctx); err != nil {
		return nil, fmt.Errorf("rank range: %w", err)
	}
	return entriesToDomain(models), nil
}

func (r leaderboardRepo) LockRanking(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", rankingLockKey); err != nil {
		return fmt.Errorf("lock ranking: %w", err)
	}
	return nil
}

func entriesToDomain(models []entryModel) []domain.LeaderboardEntry {
	out := make([]domain.LeaderboardEntry, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Field('C') == "23505" && (constraint == "" || pgErr.Field('n') == constraint)
}
