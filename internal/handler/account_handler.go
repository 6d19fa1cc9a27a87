package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

type AccountHandler struct {
	users *service.UserService
	gdpr  *service.GDPRService
}

func NewAccountHandler(users *service.UserService, gdpr *service.GDPRService) *AccountHandler {
	return &AccountHandler{users: users, gdpr: gdpr}
}

func (h *AccountHandler) Me(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, user)
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

func (h *AccountHandler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	user, err := h.users.UpdateName(c.Request.Context(), getUserID(c), req.Name)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, user)
}

// Export downloads every record held for the caller as one JSON file.
func (h *AccountHandler) Export(c *gin.Context) {
	bundle, err := h.gdpr.Export(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if c.Query("download") == "" {
		response.Success(c, bundle)
		return
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		handleError(c, err)
		return
	}
	fileName := fmt.Sprintf("docchat-export-%s.json", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(200, "application/json; charset=utf-8", data)
}

type eraseRequest struct {
	Confirm string `json:"confirm"`
}

// Erase deletes the caller's account. The body must carry confirm=DELETE.
func (h *AccountHandler) Erase(c *gin.Context) {
	var req eraseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Confirm != "DELETE" {
		response.Error(c, errcode.ErrInvalid, "confirmation required")
		return
	}
	record, err := h.gdpr.Erase(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, record)
}
