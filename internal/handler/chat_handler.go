package handler

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type sessionRequest struct {
	Title       string    `json:"title"`
	DocumentIDs *[]string `json:"document_ids"`
}

func (r sessionRequest) input() service.SessionInput {
	in := service.SessionInput{Title: r.Title}
	if r.DocumentIDs != nil {
		in.DocumentIDs = *r.DocumentIDs
		if in.DocumentIDs == nil {
			in.DocumentIDs = []string{}
		}
	}
	return in
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	session, err := h.chat.CreateSession(c.Request.Context(), getUserID(c), req.input())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	offset, limit := page(c)
	sessions, err := h.chat.ListSessions(c.Request.Context(), getUserID(c), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"sessions": sessions})
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	session, err := h.chat.GetSession(ctx, getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	history, err := h.chat.History(ctx, getUserID(c), session.ID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"session": session, "conversations": history})
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	session, err := h.chat.UpdateSession(c.Request.Context(), getUserID(c), c.Param("id"), req.input())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.chat.DeleteSession(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

type askRequest struct {
	SessionID   string   `json:"session_id"`
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids"`
	Stream      *bool    `json:"stream"`
}

// wantsStream defaults to SSE unless the client opts out.
func (r askRequest) wantsStream(c *gin.Context) bool {
	if r.Stream != nil {
		return *r.Stream
	}
	return !strings.Contains(c.GetHeader("Accept"), "application/json")
}

// Ask answers a question. Streaming responses emit sources, delta, done
// and error events.
func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	in := service.AskInput{
		UserID:      getUserID(c),
		SessionID:   req.SessionID,
		Question:    req.Question,
		DocumentIDs: req.DocumentIDs,
	}
	if !req.wantsStream(c) {
		result, err := h.chat.Ask(c.Request.Context(), in, discardSink{})
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, result)
		return
	}

	sink := newSSESink(c)
	result, err := h.chat.Ask(c.Request.Context(), in, sink)
	if err != nil {
		if !sink.started {
			handleError(c, err)
			return
		}
		msg := "answer generation failed"
		if errors.Is(err, appErr.ErrNotFound) {
			msg = "not found"
		}
		_ = sink.event("error", gin.H{"code": errcode.ErrAIUnavailable, "msg": msg})
		return
	}
	_ = sink.event("done", result)
}
