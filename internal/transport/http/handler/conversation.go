package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"knowledgebase/internal/app"
	"knowledgebase/internal/transport/http/response"
)

type ConversationHandler struct {
	conversations *app.ConversationService
}

type ChatRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question" binding:"required"`
	TopK      int    `json:"top_k"`
}

func NewConversationHandler(conversations *app.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.conversations.Chat(c.Request.Context(), app.ChatInput{
		SessionID: req.SessionID,
		Question:  req.Question,
		TopK:      req.TopK,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrQuestionEmpty):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrMessageEnqueue):
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "chat failed")
		}
		return
	}
	response.OK(c, result)
}

func (h *ConversationHandler) List(c *gin.Context) {
	convs, err := h.conversations.ListConversations(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list conversations failed")
		return
	}
	response.OK(c, convs)
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	sessionID := c.Param("sessionId")
	messages, err := h.conversations.GetMessages(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list messages failed")
		}
		return
	}
	response.OK(c, messages)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.conversations.DeleteConversation(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete conversation failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_session_id": sessionID})
}
