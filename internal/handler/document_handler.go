package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

// multipart framing allowance on top of the file limit
const multipartOverhead = 1 << 20

type DocumentHandler struct {
	documents *service.DocumentService
	maxSize   int64
}

func NewDocumentHandler(documents *service.DocumentService, maxSize int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, maxSize: maxSize}
}

// tooLargeMessage names the limit in whole megabytes, rounded up.
func (h *DocumentHandler) tooLargeMessage() string {
	const mb = 1 << 20
	limit := (h.maxSize + mb - 1) / mb
	if limit < 1 {
		limit = 1
	}
	return "file exceeds " + strconv.FormatInt(limit, 10) + "MB"
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	if h.maxSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+multipartOverhead)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, errcode.ErrFileTooLarge, h.tooLargeMessage())
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxSize > 0 && file.Size > h.maxSize {
		response.Error(c, errcode.ErrFileTooLarge, h.tooLargeMessage())
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()

	doc, err := h.documents.Upload(c.Request.Context(), service.UploadInput{
		UserID:      getUserID(c),
		Name:        file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
		Body:        opened,
	})
	if err != nil {
		if errors.Is(err, appErr.ErrFileTooLarge) {
			response.Error(c, errcode.ErrFileTooLarge, h.tooLargeMessage())
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	offset, limit := page(c)
	docs, total, err := h.documents.List(c.Request.Context(), getUserID(c), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs, "total": total})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	offset, limit := page(c)
	chunks, err := h.documents.Chunks(c.Request.Context(), getUserID(c), c.Param("id"), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"chunks": chunks})
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	doc, err := h.documents.Reprocess(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}
