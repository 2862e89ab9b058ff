package http

import (
	"errors"
	"net/http"
	"time"

	"cyberguard-progress-service/internal/domain"
	"cyberguard-progress-service/internal/logger"
	"github.com/gin-gonic/gin"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Code       string             `json:"code,omitempty"`
	Details    any                `json:"details,omitempty"`
	Data       any                `json:"data,omitempty"`
	Count      *int               `json:"count,omitempty"`
	Pagination *domain.Pagination `json:"pagination,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: message, Data: data, Timestamp: time.Now().UTC()})
}

func respondCreated(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, envelope{Success: true, Message: message, Data: data, Timestamp: time.Now().UTC()})
}

func respondList[T any](c *gin.Context, message string, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	c.JSON(http.StatusOK, envelope{Success: true, Message: message, Data: items, Count: &n, Timestamp: time.Now().UTC()})
}

func respondPage(c *gin.Context, message string, data any, p domain.Pagination) {
	c.JSON(http.StatusOK, envelope{Success: true, Message: message, Data: data, Pagination: &p, Timestamp: time.Now().UTC()})
}

func abortWith(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, envelope{Message: message, Code: code, Details: details, Timestamp: time.Now().UTC()})
}

// apiError classifies domain errors into a status and machine-readable code.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func classify(err error) apiError {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return apiError{http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", verr.Fields}
	case errors.Is(err, domain.ErrValidation):
		return apiError{http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil}
	case errors.Is(err, domain.ErrActiveModuleConflict):
		return apiError{http.StatusConflict, "ACTIVE_MODULE_EXISTS", "Another module is already active. Exit it before starting a new one", nil}
	case errors.Is(err, domain.ErrModuleNotFound):
		return apiError{http.StatusNotFound, "MODULE_NOT_FOUND", "Learning module not found", nil}
	case errors.Is(err, domain.ErrProgressNotFound):
		return apiError{http.StatusNotFound, "PROGRESS_NOT_FOUND", "No progress recorded for this module", nil}
	case errors.Is(err, domain.ErrNoActiveModule):
		return apiError{http.StatusNotFound, "NO_ACTIVE_MODULE", "No active module", nil}
	case errors.Is(err, domain.ErrRankNotFound):
		return apiError{http.StatusNotFound, "RANK_NOT_FOUND", "User is not on the leaderboard yet", nil}
	case errors.Is(err, domain.ErrUserNotFound):
		return apiError{http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil}
	case errors.Is(err, domain.ErrBadgeNotFound):
		return apiError{http.StatusNotFound, "BADGE_NOT_FOUND", "Badge not found", nil}
	}
	return apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil}
}

// respondError maps err onto the envelope. Unclassified errors are logged and, in
// release mode, hidden behind a generic message.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	e := classify(err)
	if e.Status >= http.StatusInternalServerError {
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		if gin.Mode() != gin.ReleaseMode {
			e.Message = err.Error()
		}
	}
	abortWith(c, e.Status, e.Code, e.Message, e.Details)
}
