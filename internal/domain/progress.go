package domain

import "time"

type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not-started"
	StatusInProgress ProgressStatus = "in-progress"
	StatusCompleted  ProgressStatus = "completed"
)

// Progress tracks one user on one module. Status only moves forward.
type Progress struct {
	UserID            string         `json:"userId"`
	ModuleID          string         `json:"moduleId"`
	Status            ProgressStatus `json:"status"`
	Attempts          []Attempt      `json:"attempts"`
	BestScore         int            `json:"bestScore"`
	BestAttemptNumber int            `json:"bestAttempt"`
	TotalPointsEarned int            `json:"totalPointsEarned"`
	IsActive          bool           `json:"isActive"`
	TimeSpent         int            `json:"timeSpent"`
	StartedAt         *time.Time     `json:"startedAt,omitempty"`
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	LastAccessedAt    time.Time      `json:"lastAccessedAt"`
}

func NewProgress(userID, moduleID string, now time.Time) Progress {
	return Progress{
		UserID:         userID,
		ModuleID:       moduleID,
		Status:         StatusNotStarted,
		LastAccessedAt: now,
	}
}

// Activate marks the module as the user's active one, moving it out of not-started.
func (p *Progress) Activate(now time.Time) {
	if p.Status == StatusNotStarted {
		p.Status = StatusInProgress
	}
	if p.StartedAt == nil {
		t := now
		p.StartedAt = &t
	}
	p.IsActive = true
	p.LastAccessedAt = now
}

// AddAttempt appends a graded attempt and folds it into the best-score and status fields.
// The attempt number is assigned here.
func (p *Progress) AddAttempt(a Attempt, passThreshold int, now time.Time) Attempt {
	a.AttemptNumber = len(p.Attempts) + 1
	p.Attempts = append(p.Attempts[:len(p.Attempts):len(p.Attempts)], a)

	if a.Score > p.BestScore {
		p.BestScore = a.Score
		p.BestAttemptNumber = a.AttemptNumber
		p.TotalPointsEarned = a.PointsEarned
	}

	if p.StartedAt == nil {
		t := now
		p.StartedAt = &t
	}
	switch {
	case a.Score >= passThreshold:
		p.Status = StatusCompleted
		if p.CompletedAt == nil {
			t := now
			p.CompletedAt = &t
		}
	case p.Status == StatusNotStarted:
		p.Status = StatusInProgress
	}

	p.TimeSpent += a.Duration
	p.IsActive = false
	p.LastAccessedAt = now
	return a
}

func (p Progress) Completed() bool { return p.Status == StatusCompleted }
