package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/metrics"
	"github.com/xxxsen/docchat/internal/middleware"
	"github.com/xxxsen/docchat/internal/ratelimit"
)

type Limiters struct {
	Default ratelimit.Limiter
	Chat    ratelimit.Limiter
	Upload  ratelimit.Limiter
}

type RouterDeps struct {
	Account     *AccountHandler
	Documents   *DocumentHandler
	Search      *SearchHandler
	Chat        *ChatHandler
	Invitations *InvitationHandler
	Admin       *AdminHandler
	Health      *HealthHandler
	Resolver    middleware.UserResolver
	Verifiers   []authn.Verifier
	Limiters    Limiters
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/healthz", deps.Health.Health)
	api.GET("/metrics", gin.WrapH(metrics.Handler()))
	api.GET("/invitations/validate", middleware.RateLimit("default", deps.Limiters.Default), deps.Invitations.Validate)

	identityGroup := api.Group("")
	identityGroup.Use(middleware.IdentityOnly(deps.Verifiers...), middleware.RateLimit("default", deps.Limiters.Default))
	identityGroup.POST("/invitations/accept", deps.Invitations.Accept)

	authGroup := api.Group("")
	authGroup.Use(middleware.Auth(deps.Resolver, deps.Verifiers...), middleware.RateLimit("default", deps.Limiters.Default))
	authGroup.GET("/me", deps.Account.Me)
	authGroup.PUT("/me", deps.Account.UpdateMe)
	authGroup.GET("/me/export", deps.Account.Export)
	authGroup.DELETE("/me", deps.Account.Erase)

	authGroup.POST("/documents", middleware.RateLimit("upload", deps.Limiters.Upload), deps.Documents.Upload)
	authGroup.GET("/documents", deps.Documents.List)
	authGroup.GET("/documents/:id", deps.Documents.Get)
	authGroup.GET("/documents/:id/chunks", deps.Documents.Chunks)
	authGroup.POST("/documents/:id/reprocess", middleware.RateLimit("upload", deps.Limiters.Upload), deps.Documents.Reprocess)
	authGroup.DELETE("/documents/:id", deps.Documents.Delete)

	authGroup.POST("/search", deps.Search.Search)

	authGroup.POST("/chat/sessions", deps.Chat.CreateSession)
	authGroup.GET("/chat/sessions", deps.Chat.ListSessions)
	authGroup.GET("/chat/sessions/:id", deps.Chat.GetSession)
	authGroup.PUT("/chat/sessions/:id", deps.Chat.UpdateSession)
	authGroup.DELETE("/chat/sessions/:id", deps.Chat.DeleteSession)
	authGroup.POST("/chat/ask", middleware.RateLimit("chat", deps.Limiters.Chat), deps.Chat.Ask)

	adminGroup := authGroup.Group("/admin")
	adminGroup.Use(middleware.RequireAdmin())
	adminGroup.GET("/stats", deps.Admin.Stats)
	adminGroup.GET("/users", deps.Admin.ListUsers)
	adminGroup.PUT("/users/:id/role", deps.Admin.SetRole)
	adminGroup.DELETE("/users/:id", deps.Admin.EraseUser)
	adminGroup.GET("/documents/failed", deps.Admin.FailedDocuments)
	adminGroup.POST("/documents/:id/reprocess", deps.Admin.ReprocessDocument)
	adminGroup.POST("/migration/run", deps.Admin.RunMigration)
	adminGroup.GET("/migration/status", deps.Admin.MigrationStatus)
	adminGroup.GET("/gdpr/requests", deps.Admin.GDPRRequests)
	adminGroup.POST("/invitations", deps.Invitations.Create)
	adminGroup.GET("/invitations", deps.Invitations.List)
	adminGroup.DELETE("/invitations/:id", deps.Invitations.Revoke)
}
