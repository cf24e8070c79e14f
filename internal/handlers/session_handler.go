package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/service"
)

type SessionHandler struct {
	Service *service.SessionService
	Answers *service.AnswerService
}

func NewSessionHandler(s *service.SessionService, a *service.AnswerService) *SessionHandler {
	return &SessionHandler{Service: s, Answers: a}
}

// CreateSession builds a new adaptive session from the submitted config.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var cfg models.SessionConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}
	session, err := h.Service.Create(c.Request.Context(), userID(c), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session":   session,
		"message":   "Session created successfully",
		"next_step": "Call /next to get the first question",
	})
}

// GetSession returns the session owned by the caller.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.Service.Get(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// ListSessions returns the caller's sessions, optionally filtered by status.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		limit = 50
	}
	status := models.SessionStatus(c.Query("status"))
	sessions, err := h.Service.List(c.Request.Context(), userID(c), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// StartSession moves a created session to active.
func (h *SessionHandler) StartSession(c *gin.Context) {
	h.transition(c, models.SessionActive, "Session started")
}

// PauseSession pauses an active session.
func (h *SessionHandler) PauseSession(c *gin.Context) {
	h.transition(c, models.SessionPaused, "Session paused")
}

// ResumeSession moves a paused session back to active.
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	h.transition(c, models.SessionActive, "Session resumed")
}

// CancelSession cancels a non-terminal session.
func (h *SessionHandler) CancelSession(c *gin.Context) {
	h.transition(c, models.SessionCancelled, "Session cancelled")
}

// CompleteSession ends an active session early, keeping its tallies.
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	h.transition(c, models.SessionCompleted, "Session completed")
}

func (h *SessionHandler) transition(c *gin.Context, to models.SessionStatus, message string) {
	session, err := h.Service.Transition(c.Request.Context(), c.Param("id"), userID(c), to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"message": message,
	})
}

// NextQuestion serves the selector's pick, or reports completion when the
// session has nothing left.
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	served, err := h.Service.NextQuestion(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if served.Question == nil {
		c.JSON(http.StatusOK, gin.H{
			"completed":   true,
			"next_action": served.Action,
			"progress":    served.Progress,
			"message":     "Quiz session has been completed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"next_action": served.Action,
		"question":    served.Question,
		"progress":    served.Progress,
	})
}

// SubmitAnswer grades one answer and returns the outcome, including the
// re-shuffled retry question when the answer was wrong.
func (h *SessionHandler) SubmitAnswer(c *gin.Context) {
	var req struct {
		QuestionID string   `json:"question_id" binding:"required"`
		Selected   []string `json:"selected_choice_ids" binding:"required"`
		TimeSpentS int      `json:"time_spent_s"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid answer format",
			"details": err.Error(),
		})
		return
	}
	result, err := h.Answers.Submit(c.Request.Context(), c.Param("id"), userID(c), req.QuestionID, req.Selected, req.TimeSpentS)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetProgress returns the progress indicator without serving a question.
func (h *SessionHandler) GetProgress(c *gin.Context) {
	progress, err := h.Service.Progress(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"progress":   progress,
		"session_id": c.Param("id"),
		"timestamp":  time.Now().UTC(),
	})
}

// GetSummary returns the reporting view with pace estimates.
func (h *SessionHandler) GetSummary(c *gin.Context) {
	summary, err := h.Service.Summary(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
