package postgres

import (
	"time"

	"cyberguard-progress-service/internal/domain"
	"github.com/uptrace/bun"
)

type userModel struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string           `bun:"id,pk"`
	DisplayName  string           `bun:"display_name,notnull"`
	TotalPoints  int              `bun:"total_points,notnull"`
	CurrentLevel string           `bun:"current_level,notnull"`
	CreatedAt    time.Time        `bun:"created_at,notnull"`
	Badges       []userBadgeModel `bun:"rel:has-many,join:id=user_id"`
}

type userBadgeModel struct {
	bun.BaseModel `bun:"table:user_badges,alias:ub"`

	UserID   string    `bun:"user_id,pk"`
	BadgeID  string    `bun:"badge_id,pk"`
	EarnedAt time.Time `bun:"earned_at,notnull"`
}

type ledgerModel struct {
	bun.BaseModel `bun:"table:points_ledger,alias:pl"`

	Key       string    `bun:"key,pk"`
	UserID    string    `bun:"user_id,notnull"`
	Points    int       `bun:"points,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type progressModel struct {
	bun.BaseModel `bun:"table:progress,alias:p"`

	ID                int64          `bun:"id,pk,autoincrement"`
	UserID            string         `bun:"user_id,notnull"`
	ModuleID          string         `bun:"module_id,notnull"`
	Status            string         `bun:"status,notnull"`
	BestScore         int            `bun:"best_score,notnull"`
	BestAttempt       int            `bun:"best_attempt,notnull"`
	TotalPointsEarned int            `bun:"total_points_earned,notnull"`
	IsActive          bool           `bun:"is_active,notnull"`
	TimeSpent         int            `bun:"time_spent,notnull"`
	StartedAt         *time.Time     `bun:"started_at"`
	CompletedAt       *time.Time     `bun:"completed_at"`
	LastAccessedAt    time.Time      `bun:"last_accessed_at,notnull"`
	Attempts          []attemptModel `bun:"rel:has-many,join:id=progress_id"`
}

type attemptModel struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ProgressID     int64                 `bun:"progress_id,pk"`
	AttemptNumber  int                   `bun:"attempt_number,pk"`
	Answers        []domain.AnswerResult `bun:"answers,type:jsonb,notnull"`
	Score          int                   `bun:"score,notnull"`
	TotalQuestions int                   `bun:"total_questions,notnull"`
	CorrectAnswers int                   `bun:"correct_answers,notnull"`
	PointsEarned   int                   `bun:"points_earned,notnull"`
	Duration       int                   `bun:"duration,notnull"`
	CompletedAt    time.Time             `bun:"completed_at,notnull"`
}

type badgeModel struct {
	bun.BaseModel `bun:"table:badges,alias:b"`

	ID          string               `bun:"id,pk"`
	Name        string               `bun:"name,notnull"`
	Description string               `bun:"description,notnull"`
	Icon        string               `bun:"icon,notnull"`
	Category    string               `bun:"category,notnull"`
	Level       string               `bun:"level,notnull"`
	Criteria    domain.CriterionSpec `bun:"criteria,type:jsonb,notnull"`
	Rarity      string               `bun:"rarity,notnull"`
	Points      int                  `bun:"points,notnull"`
	IsActive    bool                 `bun:"is_active,notnull"`
	Ord         int                  `bun:"ord,notnull"`
}

type entryModel struct {
	bun.BaseModel `bun:"table:leaderboard_entries,alias:le"`

	UserID           string    `bun:"user_id,pk"`
	DisplayName      string    `bun:"display_name,notnull"`
	TotalPoints      int       `bun:"total_points,notnull"`
	CurrentLevel     string    `bun:"current_level,notnull"`
	BadgeCount       int       `bun:"badge_count,notnull"`
	ModulesCompleted int       `bun:"modules_completed,notnull"`
	Rank             int       `bun:"rank,notnull"`
	PreviousRank     int       `bun:"previous_rank,notnull"`
	RankChange       int       `bun:"rank_change,notnull"`
	LastActivityAt   time.Time `bun:"last_activity_at,notnull"`
	PointsUpdatedAt  time.Time `bun:"points_updated_at,notnull"`
}

func (m userModel) toDomain() domain.User {
	u := domain.User{
		ID:           m.ID,
		DisplayName:  m.DisplayName,
		TotalPoints:  m.TotalPoints,
		CurrentLevel: domain.Level(m.CurrentLevel),
		CreatedAt:    m.CreatedAt,
		EarnedBadges: make([]domain.EarnedBadge, 0, len(m.Badges)),
	}
	for _, b := range m.Badges {
		u.EarnedBadges = append(u.EarnedBadges, domain.EarnedBadge{BadgeID: b.BadgeID, EarnedAt: b.EarnedAt})
	}
	return u
}

func (m progressModel) toDomain() domain.Progress {
	p := domain.Progress{
		UserID:            m.UserID,
		ModuleID:          m.ModuleID,
		Status:            domain.ProgressStatus(m.Status),
		BestScore:         m.BestScore,
		BestAttemptNumber: m.BestAttempt,
		TotalPointsEarned: m.TotalPointsEarned,
		IsActive:          m.IsActive,
		TimeSpent:         m.TimeSpent,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
		LastAccessedAt:    m.LastAccessedAt,
		Attempts:          make([]domain.Attempt, 0, len(m.Attempts)),
	}
	for _, a := range m.Attempts {
		p.Attempts = append(p.Attempts, domain.Attempt{
			AttemptNumber:  a.AttemptNumber,
			Answers:        a.Answers,
			Score:          a.Score,
			TotalQuestions: a.TotalQuestions,
			CorrectAnswers: a.CorrectAnswers,
			PointsEarned:   a.PointsEarned,
			Duration:       a.Duration,
			CompletedAt:    a.CompletedAt,
		})
	}
	return p
}

func newProgressModel(p domain.Progress) progressModel {
	return progressModel{
		UserID:            p.UserID,
		ModuleID:          p.ModuleID,
		Status:            string(p.Status),
		BestScore:         p.BestScore,
		BestAttempt:       p.BestAttemptNumber,
		TotalPointsEarned: p.TotalPointsEarned,
		IsActive:          p.IsActive,
		TimeSpent:         p.TimeSpent,
		StartedAt:         p.StartedAt,
		CompletedAt:       p.CompletedAt,
		LastAccessedAt:    p.LastAccessedAt,
	}
}

func newAttemptModel(progressID int64, a domain.Attempt) attemptModel {
	answers := a.Answers
	if answers == nil {
		answers = []domain.AnswerResult{}
	}
	return attemptModel{
		ProgressID:     progressID,
		AttemptNumber:  a.AttemptNumber,
		Answers:        answers,
		Score:          a.Score,
		TotalQuestions: a.TotalQuestions,
		CorrectAnswers: a.CorrectAnswers,
		PointsEarned:   a.PointsEarned,
		Duration:       a.Duration,
		CompletedAt:    a.CompletedAt,
	}
}

func (m badgeModel) toDomain() (domain.Badge, error) {
	c, err := domain.ParseCriterion(m.Criteria)
	if err != nil {
		return domain.Badge{}, err
	}
	return domain.Badge{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Icon:        m.Icon,
		Category:    domain.BadgeCategory(m.Category),
		Level:       m.Level,
		Criterion:   c,
		Rarity:      m.Rarity,
		Points:      m.Points,
		IsActive:    m.IsActive,
		Order:       m.Ord,
	}, nil
}

func newBadgeModel(b domain.Badge) badgeModel {
	return badgeModel{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Icon:        b.Icon,
		Category:    string(b.Category),
		Level:       b.Level,
		Criteria:    b.Criterion.Spec(),
		Rarity:      b.Rarity,
		Points:      b.Points,
		IsActive:    b.IsActive,
		Ord:         b.Order,
	}
}

func (m entryModel) toDomain() domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		UserID:           m.UserID,
		DisplayName:      m.DisplayName,
		TotalPoints:      m.TotalPoints,
		CurrentLevel:     domain.Level(m.CurrentLevel),
		BadgeCount:       m.BadgeCount,
		ModulesCompleted: m.ModulesCompleted,
		Rank:             m.Rank,
		PreviousRank:     m.PreviousRank,
		RankChange:       m.RankChange,
		LastActivityAt:   m.LastActivityAt,
		PointsUpdatedAt:  m.PointsUpdatedAt,
	}
}

func newEntryModel(e domain.LeaderboardEntry) entryModel {
	return entryModel{
		UserID:           e.UserID,
		DisplayName:      e.DisplayName,
		TotalPoints:      e.TotalPoints,
		CurrentLevel:     string(e.CurrentLevel),
		BadgeCount:       e.BadgeCount,
		ModulesCompleted: e.ModulesCompleted,
		Rank:             e.Rank,
		PreviousRank:     e.PreviousRank,
		RankChange:       e.RankChange,
		LastActivityAt:   e.LastActivityAt,
		PointsUpdatedAt:  e.PointsUpdatedAt,
	}
}
