package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/service"
)

type AdminHandler struct {
	admin     *service.AdminService
	users     *service.UserService
	documents *service.DocumentService
	migration *service.AuthMigrationService
	gdpr      *service.GDPRService
}

type AdminDeps struct {
	Admin     *service.AdminService
	Users     *service.UserService
	Documents *service.DocumentService
	Migration *service.AuthMigrationService
	GDPR      *service.GDPRService
}

func NewAdminHandler(deps AdminDeps) *AdminHandler {
	return &AdminHandler{
		admin:     deps.Admin,
		users:     deps.Users,
		documents: deps.Documents,
		migration: deps.Migration,
		gdpr:      deps.GDPR,
	}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.admin.Stats(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	offset, limit := page(c)
	users, total, err := h.users.List(c.Request.Context(), c.Query("q"), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"users": users, "total": total})
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandler) SetRole(c *gin.Context) {
	var req setRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	user, err := h.users.SetRole(c.Request.Context(), getUserID(c), c.Param("id"), req.Role)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, user)
}

// EraseUser runs the GDPR erase for another account.
func (h *AdminHandler) EraseUser(c *gin.Context) {
	target := c.Param("id")
	if target == getUserID(c) {
		response.Error(c, errcode.ErrInvalid, "use account deletion for your own account")
		return
	}
	record, err := h.gdpr.Erase(c.Request.Context(), target)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, record)
}

func (h *AdminHandler) FailedDocuments(c *gin.Context) {
	offset, limit := page(c)
	docs, err := h.documents.Failed(c.Request.Context(), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs})
}

func (h *AdminHandler) ReprocessDocument(c *gin.Context) {
	doc, err := h.documents.Reprocess(c.Request.Context(), "", c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

type migrationRunRequest struct {
	BatchSize int  `json:"batch_size"`
	DryRun    bool `json:"dry_run"`
}

func (h *AdminHandler) RunMigration(c *gin.Context) {
	var req migrationRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errcode.ErrInvalid, "invalid request")
			return
		}
	}
	report, err := h.migration.Run(c.Request.Context(), req.BatchSize, req.DryRun)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}

func (h *AdminHandler) MigrationStatus(c *gin.Context) {
	status, err := h.migration.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *AdminHandler) GDPRRequests(c *gin.Context) {
	offset, limit := page(c)
	items, err := h.gdpr.List(c.Request.Context(), c.Query("kind"), offset, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"requests": items})
}
