package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func getUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}

// page reads offset/limit query parameters with sane bounds.
func page(c *gin.Context) (uint, uint) {
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return uint(offset), uint(limit)
}

var errorCodes = []struct {
	err  error
	code int
	msg  string
}{
	{appErr.ErrUnauthorized, errcode.ErrUnauthorized, "unauthorized"},
	{appErr.ErrForbidden, errcode.ErrForbidden, "forbidden"},
	{appErr.ErrNotFound, errcode.ErrNotFound, "not found"},
	{appErr.ErrInvalid, errcode.ErrInvalid, "invalid request"},
	{appErr.ErrConflict, errcode.ErrConflict, "conflict"},
	{appErr.ErrTooMany, errcode.ErrTooMany, "too many requests"},
	{appErr.ErrFileTooLarge, errcode.ErrFileTooLarge, "file too large"},
	{appErr.ErrUnsupportedFile, errcode.ErrUnsupportedFile, "unsupported file type"},
	{appErr.ErrEmptyDocument, errcode.ErrEmptyDocument, "document has no extractable text"},
	{appErr.ErrNotReady, errcode.ErrNotReady, "not ready"},
	{appErr.ErrInviteRequired, errcode.ErrInviteRequired, "invitation required"},
	{appErr.ErrInviteExpired, errcode.ErrInviteExpired, "invitation expired or already used"},
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	for _, m := range errorCodes {
		if errors.Is(err, m.err) {
			response.Error(c, m.code, m.msg)
			return
		}
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.Error(err),
	)
	response.Error(c, errcode.ErrInternal, "internal error")
}
