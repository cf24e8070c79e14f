package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"adaptive-quiz-service/internal/models"
	"adaptive-quiz-service/internal/repository"
	"adaptive-quiz-service/internal/service"
)

// QuestionHandler exposes catalog authoring. Questions carry their correct
// flags, so every route here stays behind the protected group; learners only
// ever see questions through session serving.
type QuestionHandler struct {
	Service *service.QuestionService
}

func NewQuestionHandler(s *service.QuestionService) *QuestionHandler {
	return &QuestionHandler{Service: s}
}

func (h *QuestionHandler) CreateQuestion(c *gin.Context) {
	var question models.Question
	if err := c.ShouldBindJSON(&question); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid question format",
			"details": err.Error(),
		})
		return
	}
	question.CreatedBy = userID(c)
	if err := h.Service.Create(c.Request.Context(), &question); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"question": question})
}

func (h *QuestionHandler) GetQuestion(c *gin.Context) {
	question, err := h.Service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"question": question})
}

// SearchQuestions filters the catalog by the source dimensions.
func (h *QuestionHandler) SearchQuestions(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		limit = 100
	}
	filter := repository.QuestionFilter{
		Category:    c.Query("category"),
		Provider:    c.Query("provider"),
		Certificate: c.Query("certificate"),
		Language:    c.Query("language"),
		Status:      models.QuestionStatus(c.Query("status")),
	}
	questions, err := h.Service.Search(c.Request.Context(), filter, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"questions": questions,
		"count":     len(questions),
	})
}

// ImportQuestions bulk-writes a batch, reporting per-question rejections.
func (h *QuestionHandler) ImportQuestions(c *gin.Context) {
	var req struct {
		Questions []*models.Question `json:"questions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid import format",
			"details": err.Error(),
		})
		return
	}
	for _, q := range req.Questions {
		if q.CreatedBy == "" {
			q.CreatedBy = userID(c)
		}
	}
	report, err := h.Service.Import(c.Request.Context(), req.Questions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// UpdateQuestionStatus moves a question through its authoring lifecycle.
func (h *QuestionHandler) UpdateQuestionStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid status format",
			"details": err.Error(),
		})
		return
	}
	question, err := h.Service.UpdateStatus(c.Request.Context(), c.Param("id"), models.QuestionStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"question": question,
		"message":  "Status updated",
	})
}

// RecomputeDifficulty rebuilds the question's difficulty estimate from
// recent progress history.
func (h *QuestionHandler) RecomputeDifficulty(c *gin.Context) {
	estimate, err := h.Service.RecomputeDifficulty(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}
