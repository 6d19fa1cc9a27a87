package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/response"
)

const (
	ContextUserIDKey       = "user_id"
	ContextUserRoleKey     = "user_role"
	ContextAuthProviderKey = "auth_provider"
	ContextIdentityKey     = "identity"

	HeaderAuthMigration = "X-Auth-Migration"
)

type UserResolver interface {
	Resolve(ctx context.Context, id *authn.Identity) (*model.User, error)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// verify tries each verifier in order and returns the first identity.
func verify(ctx context.Context, verifiers []authn.Verifier, token string) (*authn.Identity, error) {
	for _, v := range verifiers {
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		logutil.GetLogger(ctx).Debug("token rejected", zap.String("provider", v.Provider()), zap.Error(err))
	}
	return nil, authn.ErrInvalidToken
}

func identify(c *gin.Context, verifiers []authn.Verifier) (*authn.Identity, bool) {
	token, ok := bearerToken(c)
	if !ok {
		response.Abort(c, errcode.ErrUnauthorized, "missing authorization")
		return nil, false
	}
	id, err := verify(c.Request.Context(), verifiers, token)
	if err != nil {
		response.Abort(c, errcode.ErrUnauthorized, "invalid token")
		return nil, false
	}
	c.Set(ContextIdentityKey, id)
	c.Set(ContextAuthProviderKey, id.Provider)
	return id, true
}

// Auth accepts Supabase and Clerk tokens and resolves them to a local user.
// Responses to Clerk sessions of accounts without a Supabase identity carry
// X-Auth-Migration: required.
func Auth(resolver UserResolver, verifiers ...authn.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identify(c, verifiers)
		if !ok {
			return
		}
		user, err := resolver.Resolve(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, appErr.ErrInviteRequired):
				response.Abort(c, errcode.ErrInviteRequired, "invitation required")
			case errors.Is(err, appErr.ErrUnauthorized), errors.Is(err, appErr.ErrNotFound):
				response.Abort(c, errcode.ErrUnauthorized, "unknown account")
			case errors.Is(err, appErr.ErrConflict):
				response.Abort(c, errcode.ErrConflict, "email is linked to another account")
			default:
				logutil.GetLogger(c.Request.Context()).Error("resolve user failed",
					zap.String("provider", id.Provider), zap.Error(err))
				response.Abort(c, errcode.ErrInternal, "internal error")
			}
			return
		}
		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextUserRoleKey, user.Role)
		if id.Provider == authn.ProviderClerk && !user.Migrated() {
			c.Header(HeaderAuthMigration, "required")
		}
		c.Next()
	}
}

// IdentityOnly verifies the token without requiring a local account.
func IdentityOnly(verifiers ...authn.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identify(c, verifiers); !ok {
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextUserRoleKey) != model.RoleAdmin {
			response.Abort(c, errcode.ErrForbidden, "admin only")
			return
		}
		c.Next()
	}
}

func GetIdentity(c *gin.Context) *authn.Identity {
	value, _ := c.Get(ContextIdentityKey)
	id, _ := value.(*authn.Identity)
	return id
}
