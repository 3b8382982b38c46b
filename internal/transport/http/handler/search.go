package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"knowledgebase/internal/app"
	"knowledgebase/internal/transport/http/response"
)

type SearchHandler struct {
	retriever *app.HybridRetriever
	embedder  app.Embedder
}

type SearchRequest struct {
	Query      string `json:"query" binding:"required"`
	TopK       int    `json:"top_k"`
	DocumentID uint   `json:"document_id"`
}

func NewSearchHandler(retriever *app.HybridRetriever, embedder app.Embedder) *SearchHandler {
	return &SearchHandler{retriever: retriever, embedder: embedder}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "query is empty")
		return
	}

	embedding, err := h.embedder.Embed(c.Request.Context(), query)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "embed query failed")
		return
	}

	results, err := h.retriever.Retrieve(c.Request.Context(), query, embedding, app.RetrieveOptions{
		TopK:       req.TopK,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "search failed")
		return
	}
	response.OK(c, gin.H{"results": results})
}
