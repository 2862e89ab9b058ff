package domain

import "time"

// Level is a difficulty tier shared by modules, users and badges.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
)

// Levels lists every tier in promotion order.
var Levels = []Level{LevelBeginner, LevelIntermediate, LevelAdvanced}

func (l Level) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced:
		return true
	}
	return false
}

// Next returns the tier after l. Advanced is terminal.
func (l Level) Next() (Level, bool) {
	switch l {
	case LevelBeginner:
		return LevelIntermediate, true
	case LevelIntermediate:
		return LevelAdvanced, true
	}
	return l, false
}

// Question is a single multiple choice item. CorrectAnswer is a zero-based index into Options.
type Question struct {
	ID            string   `json:"id" yaml:"id"`
	Prompt        string   `json:"question" yaml:"question"`
	Options       []string `json:"options" yaml:"options"`
	CorrectAnswer int      `json:"correctAnswer" yaml:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty" yaml:"explanation"`
	Difficulty    string   `json:"difficulty,omitempty" yaml:"difficulty"`
	Points        int      `json:"points" yaml:"points"`
}

// Module is read-only content owned by the catalog.
type Module struct {
	ID                string     `json:"moduleId" yaml:"moduleId"`
	Title             string     `json:"title" yaml:"title"`
	Description       string     `json:"description" yaml:"description"`
	Level             Level      `json:"level" yaml:"level"`
	Order             int        `json:"order" yaml:"order"`
	EstimatedDuration int        `json:"estimatedDuration" yaml:"estimatedDuration"`
	IsActive          bool       `json:"isActive" yaml:"isActive"`
	Questions         []Question `json:"questions" yaml:"questions"`
}

func (m Module) TotalPoints() int {
	total := 0
	for _, q := range m.Questions {
		total += q.Points
	}
	return total
}

// Answer is one entry of a quiz submission.
type Answer struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer int    `json:"selectedAnswer"`
	TimeSpent      int    `json:"timeSpent"`
}

// AnswerResult is the graded form of an Answer. SelectedAnswer is -1 when the question was skipped.
type AnswerResult struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer int    `json:"selectedAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
	PointsEarned   int    `json:"pointsEarned"`
	TimeSpent      int    `json:"timeSpent"`
}

// Attempt is immutable once recorded.
type Attempt struct {
	AttemptNumber  int            `json:"attemptNumber"`
	Answers        []AnswerResult `json:"answers"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"totalQuestions"`
	CorrectAnswers int            `json:"correctAnswers"`
	PointsEarned   int            `json:"pointsEarned"`
	Duration       int            `json:"duration"`
	CompletedAt    time.Time      `json:"completedAt"`
}

type EarnedBadge struct {
	BadgeID  string    `json:"badgeId"`
	EarnedAt time.Time `json:"earnedAt"`
}

// User is the aggregate the scoring pipeline accrues points and badges on.
type User struct {
	ID           string        `json:"userId"`
	DisplayName  string        `json:"displayName"`
	TotalPoints  int           `json:"totalPoints"`
	CurrentLevel Level         `json:"currentLevel"`
	EarnedBadges []EarnedBadge `json:"earnedBadges"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func (u User) HasBadge(badgeID string) bool {
	for _, b := range u.EarnedBadges {
		if b.BadgeID == badgeID {
			return true
		}
	}
	return false
}

// Identity is the authenticated caller as asserted by the auth layer.
type Identity struct {
	UserID      string
	DisplayName string
}

type BadgeCategory string

const (
	CategoryAchievement BadgeCategory = "achievement"
	CategoryMilestone   BadgeCategory = "milestone"
	CategoryMastery     BadgeCategory = "mastery"
	CategorySpecial     BadgeCategory = "special"
)

// BadgeLevelAll marks a badge that is not tied to a tier.
const BadgeLevelAll = "all"

type Badge struct {
	ID          string        `json:"badgeId"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Category    BadgeCategory `json:"category"`
	Level       string        `json:"level"`
	Criterion   Criterion     `json:"-"`
	Rarity      string        `json:"rarity"`
	Points      int           `json:"points"`
	IsActive    bool          `json:"isActive"`
	Order       int           `json:"order"`
}

// LeaderboardEntry is a denormalized ranking row. PointsUpdatedAt orders ties.
type LeaderboardEntry struct {
	UserID           string    `json:"userId"`
	DisplayName      string    `json:"displayName"`
	TotalPoints      int       `json:"totalPoints"`
	CurrentLevel     Level     `json:"currentLevel"`
	BadgeCount       int       `json:"badgeCount"`
	ModulesCompleted int       `json:"modulesCompleted"`
	Rank             int       `json:"rank"`
	PreviousRank     int       `json:"previousRank"`
	RankChange       int       `json:"rankChange"`
	LastActivityAt   time.Time `json:"lastActivity"`
	PointsUpdatedAt  time.Time `json:"lastUpdated"`
}

type Pagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	Pages   int  `json:"pages"`
	HasNext bool `json:"hasNext"`
	HasPrev bool `json:"hasPrev"`
}

// NewPagination derives page metadata for total items.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:    page,
		Limit:   limit,
		Total:   total,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	}
}

type LeaderboardPage struct {
	Entries    []LeaderboardEntry `json:"leaderboard"`
	Pagination Pagination         `json:"pagination"`
}

type LeaderboardStats struct {
	TotalUsers        int               `json:"totalUsers"`
	LevelDistribution map[Level]int     `json:"levelDistribution"`
	AveragePoints     int               `json:"averagePoints"`
	TopScorer         *LeaderboardEntry `json:"topScorer"`
}

// LeaderboardSnapshot is what live subscribers receive after each recompute.
type LeaderboardSnapshot struct {
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type LevelProgress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

type ProgressSummary struct {
	TotalPoints       int                     `json:"totalPoints"`
	CurrentLevel      Level                   `json:"currentLevel"`
	ModulesCompleted  int                     `json:"modulesCompleted"`
	ModulesInProgress int                     `json:"modulesInProgress"`
	TotalModules      int                     `json:"totalModules"`
	CompletionRate    int                     `json:"completionRate"`
	LevelProgress     map[Level]LevelProgress `json:"levelProgress"`
	TotalTimeSpent    int                     `json:"totalTimeSpent"`
	AverageScore      int                     `json:"averageScore"`
	BadgesEarned      int                     `json:"badgesEarned"`
}
