package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"knowledgebase/internal/app"
	"knowledgebase/internal/transport/http/response"
)

const maxUploadFileSize = 50 << 20 // 50 MB per file

type DocumentHandler struct {
	documents *app.DocumentService
}

func NewDocumentHandler(documents *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// BatchUpload accepts a multipart form with repeated "files" fields and
// returns a task id right away; progress is polled separately.
func (h *DocumentHandler) BatchUpload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no files in upload")
		return
	}

	files := make([]app.RawFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		if fh.Size > maxUploadFileSize {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest,
				"file too large: "+fh.Filename)
			return
		}
		f, err := fh.Open()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read upload failed")
			return
		}
		files = append(files, app.RawFile{Name: fh.Filename, Data: data})
	}

	result, err := h.documents.SubmitBatch(c.Request.Context(), files)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmptyBatch):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrBatchTooLarge):
			response.Error(c, http.StatusBadRequest, response.CodeBatchTooLarge, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "submit batch failed")
		}
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) Progress(c *gin.Context) {
	taskID := c.Param("taskId")
	status, err := h.documents.GetProgress(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, app.ErrTaskNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeTaskNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "read progress failed")
		}
		return
	}
	response.OK(c, status)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.ListDocuments(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	doc, err := h.documents.GetDocument(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get document failed")
		}
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	chunks, err := h.documents.GetDocumentChunks(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get document chunks failed")
		}
		return
	}
	response.OK(c, chunks)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	if err := h.documents.DeleteDocument(c.Request.Context(), id); err != nil {
		if errors.Is(err, app.ErrDocumentNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		} else {
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	s := c.Param(key)
	u, err := strconv.ParseUint(s, 10, 64)
	return uint(u), err
}
