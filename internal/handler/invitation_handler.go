package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

type InvitationHandler struct {
	invites *service.InvitationService
}

func NewInvitationHandler(invites *service.InvitationService) *InvitationHandler {
	return &InvitationHandler{invites: invites}
}

type createInviteRequest struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	TTLDays int    `json:"ttl_days"`
}

func (h *InvitationHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	inv, token, err := h.invites.Create(c.Request.Context(), getUserID(c), service.InviteInput{
		Email:   req.Email,
		Role:    req.Role,
		TTLDays: req.TTLDays,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"invitation": inv, "token": token})
}

func (h *InvitationHandler) List(c *gin.Context) {
	offset, limit := page(c)
	items, err := h.invites.List(c.Request.Context(), c.Query("status"), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"invitations": items})
}

func (h *InvitationHandler) Revoke(c *gin.Context) {
	if err := h.invites.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

// Validate is public: it only tells the invitee which email and role the
// token was issued for.
func (h *InvitationHandler) Validate(c *gin.Context) {
	inv, err := h.invites.Validate(c.Request.Context(), c.Query("token"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"email": inv.Email, "role": inv.Role, "expires_at": inv.ExpiresAt})
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

func (h *InvitationHandler) Accept(c *gin.Context) {
	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	id := middleware.GetIdentity(c)
	if id == nil {
		response.Error(c, errcode.ErrUnauthorized, "unauthorized")
		return
	}
	user, err := h.invites.Accept(c.Request.Context(), req.Token, id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, user)
}
