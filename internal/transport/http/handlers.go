package http

import (
	"fmt"
	"net/http"
	"strconv"

	"cyberguard-progress-service/internal/app"
	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/logger"
	"github.com/gin-gonic/gin"
)

// Handler serves the progress, catalog, leaderboard and user routes.
type Handler struct {
	service  *app.Service
	log      *logger.Logger
	activity ActivityReader
}

// answerBody keeps selectedAnswer nullable so an omitted choice is not read as option 0.
type answerBody struct {
	QuestionID     string `json:"questionId"`
	SelectedAnswer *int   `json:"selectedAnswer"`
	TimeSpent      int    `json:"timeSpent"`
}

type submitBody struct {
	Answers  []answerBody `json:"answers"`
	Duration int          `json:"duration"`
}

func (b submitBody) answers() ([]domain.Answer, error) {
	verr := &domain.ValidationError{}
	out := make([]domain.Answer, 0, len(b.Answers))
	for i, a := range b.Answers {
		field := fmt.Sprintf("answers[%d]", i)
		if a.QuestionID == "" {
			verr.Add(field+".questionId", "is required")
		}
		if a.SelectedAnswer == nil {
			verr.Add(field+".selectedAnswer", "is required")
			continue
		}
		out = append(out, domain.Answer{QuestionID: a.QuestionID, SelectedAnswer: *a.SelectedAnswer, TimeSpent: a.TimeSpent})
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// publicQuestion hides the answer key from learners.
type publicQuestion struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"question"`
	Options    []string `json:"options"`
	Difficulty string   `json:"difficulty,omitempty"`
	Points     int      `json:"points"`
}

type publicModule struct {
	ID                string           `json:"moduleId"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Level             domain.Level     `json:"level"`
	Order             int              `json:"order"`
	EstimatedDuration int              `json:"estimatedDuration"`
	TotalPoints       int              `json:"totalPoints"`
	Questions         []publicQuestion `json:"questions"`
}

func toPublicQuestions(qs []domain.Question) []publicQuestion {
	out := make([]publicQuestion, 0, len(qs))
	for _, q := range qs {
		out = append(out, publicQuestion{ID: q.ID, Prompt: q.Prompt, Options: q.Options, Difficulty: q.Difficulty, Points: q.Points})
	}
	return out
}

func toPublicModule(m domain.Module) publicModule {
	return publicModule{
		ID:                m.ID,
		Title:             m.Title,
		Description:       m.Description,
		Level:             m.Level,
		Order:             m.Order,
		EstimatedDuration: m.EstimatedDuration,
		TotalPoints:       m.TotalPoints(),
		Questions:         toPublicQuestions(m.Questions),
	}
}

func toPublicModules(mods []domain.Module) []publicModule {
	out := make([]publicModule, 0, len(mods))
	for _, m := range mods {
		out = append(out, toPublicModule(m))
	}
	return out
}

// queryInt returns 0 for a missing or malformed value so the service default applies.
func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) listModules(c *gin.Context) {
	mods, err := h.service.Modules(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, "Modules fetched successfully", toPublicModules(mods))
}

func (h *Handler) modulesByLevel(c *gin.Context) {
	level := domain.Level(c.Param("level"))
	mods, err := h.service.ModulesByLevel(c.Request.Context(), level)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, string(level)+" modules fetched successfully", toPublicModules(mods))
}

func (h *Handler) getModule(c *gin.Context) {
	m, err := h.service.Module(c.Request.Context(), c.Param("moduleId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Module fetched successfully", gin.H{"module": toPublicModule(m)})
}

func (h *Handler) moduleQuestions(c *gin.Context) {
	m, err := h.service.Module(c.Request.Context(), c.Param("moduleId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Module questions fetched successfully", gin.H{"questions": toPublicQuestions(m.Questions)})
}

func (h *Handler) listBadges(c *gin.Context) {
	badges, err := h.service.Badges(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, "Badges fetched successfully", badges)
}

func (h *Handler) progressSummary(c *gin.Context) {
	summary, err := h.service.ProgressSummary(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Progress summary fetched successfully", gin.H{"summary": summary})
}

func (h *Handler) allProgress(c *gin.Context) {
	progress, err := h.service.AllProgress(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if progress == nil {
		progress = []domain.Progress{}
	}
	respondOK(c, "All progress fetched successfully", gin.H{"progress": progress})
}

func (h *Handler) activeModule(c *gin.Context) {
	active, err := h.service.ActiveModule(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Active module fetched successfully", gin.H{
		"activeModule": gin.H{"progress": active.Progress, "module": toPublicModule(active.Module)},
	})
}

func (h *Handler) exitActiveModule(c *gin.Context) {
	if err := h.service.ExitActiveModule(c.Request.Context(), identity(c).UserID); err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Exited active module successfully", nil)
}

func (h *Handler) startModule(c *gin.Context) {
	progress, err := h.service.StartModule(c.Request.Context(), identity(c), c.Param("moduleId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Module started successfully", gin.H{"progress": progress})
}

func (h *Handler) submitQuiz(c *gin.Context) {
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWith(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request body must be JSON with answers and duration", nil)
		return
	}
	answers, err := body.answers()
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	res, err := h.service.SubmitQuiz(c.Request.Context(), identity(c), c.Param("moduleId"), app.SubmitRequest{
		Answers:  answers,
		Duration: body.Duration,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	msg := "Quiz submitted successfully"
	if res.Passed {
		msg = "Quiz submitted successfully. Module completed!"
	}
	respondOK(c, msg, res)
}

func (h *Handler) moduleProgress(c *gin.Context) {
	progress, err := h.service.ModuleProgress(c.Request.Context(), identity(c).UserID, c.Param("moduleId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Progress fetched successfully", gin.H{"progress": progress})
}

func (h *Handler) touchModule(c *gin.Context) {
	progress, err := h.service.TouchModule(c.Request.Context(), identity(c), c.Param("moduleId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Last accessed updated", gin.H{"progress": progress})
}

func (h *Handler) leaderboard(c *gin.Context) {
	page, err := h.service.Leaderboard(c.Request.Context(), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondPage(c, "Leaderboard fetched successfully", gin.H{"leaderboard": page.Entries}, page.Pagination)
}

func (h *Handler) leaderboardByLevel(c *gin.Context) {
	level := domain.Level(c.Param("level"))
	page, err := h.service.LeaderboardByLevel(c.Request.Context(), level, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondPage(c, string(level)+" leaderboard fetched successfully", gin.H{"leaderboard": page.Entries}, page.Pagination)
}

func (h *Handler) topPerformers(c *gin.Context) {
	top, err := h.service.TopPerformers(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, "Top performers fetched successfully", top)
}

func (h *Handler) leaderboardStats(c *gin.Context) {
	stats, err := h.service.LeaderboardStats(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Leaderboard stats fetched successfully", gin.H{"stats": stats})
}

func (h *Handler) myEntry(c *gin.Context) {
	entry, err := h.service.MyEntry(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Leaderboard entry fetched successfully", gin.H{"entry": entry})
}

func (h *Handler) myRank(c *gin.Context) {
	rank, err := h.service.MyRank(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondOK(c, "Rank fetched successfully", rank)
}

func (h *Handler) nearMe(c *gin.Context) {
	near, err := h.service.NearMe(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, "Nearby users fetched successfully", near)
}

func (h *Handler) userBadges(c *gin.Context) {
	badges, err := h.service.UserBadges(c.Request.Context(), identity(c).UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, "Badges fetched successfully", badges)
}

func (h *Handler) userActivity(c *gin.Context) {
	if h.activity == nil {
		respondList(c, "Activity fetched successfully", []struct{}{})
		return
	}
	limit := queryInt(c, "limit")
	switch {
	case limit <= 0:
		limit = 20
	case limit > 100:
		limit = 100
	}
	events, err := h.activity.Recent(c.Request.Context(), identity(c).UserID, int64(limit))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	respondList(c, "Activity fetched successfully", events)
}
