package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"knowledgebase/internal/app"
	"knowledgebase/internal/transport/http/response"
)

type QAHandler struct {
	qaService *app.QAService
}

type QARequest struct {
	Question   string `json:"question" binding:"required"`
	TopK       int    `json:"top_k"`
	DocumentID uint   `json:"document_id"`
}

func NewQAHandler(qaService *app.QAService) *QAHandler {
	return &QAHandler{qaService: qaService}
}

func (h *QAHandler) Answer(c *gin.Context) {
	var req QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.qaService.Answer(c.Request.Context(), req.Question, app.RetrieveOptions{
		TopK:       req.TopK,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		if errors.Is(err, app.ErrQuestionEmpty) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "answer failed")
		}
		return
	}
	response.OK(c, result)
}
