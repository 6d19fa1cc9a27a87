package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type tokenVerifier struct {
	provider string
	tokens   map[string]*authn.Identity
}

func (v tokenVerifier) Provider() string { return v.provider }

func (v tokenVerifier) Verify(_ context.Context, token string) (*authn.Identity, error) {
	if id, ok := v.tokens[token]; ok {
		return id, nil
	}
	return nil, authn.ErrInvalidToken
}

type mapResolver map[string]*model.User

func (m mapResolver) Resolve(_ context.Context, id *authn.Identity) (*model.User, error) {
	if id.Subject == "needs-invite" {
		return nil, appErr.ErrInviteRequired
	}
	if u, ok := m[id.Subject]; ok {
		return u, nil
	}
	return nil, appErr.ErrUnauthorized
}

func authRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	supabase := tokenVerifier{provider: authn.ProviderSupabase, tokens: map[string]*authn.Identity{
		"sb-token":     {Provider: authn.ProviderSupabase, Subject: "sb-1"},
		"invite-token": {Provider: authn.ProviderSupabase, Subject: "needs-invite", Email: "new@example.com"},
	}}
	clerk := tokenVerifier{provider: authn.ProviderClerk, tokens: map[string]*authn.Identity{
		"ck-legacy":   {Provider: authn.ProviderClerk, Subject: "ck-1"},
		"ck-migrated": {Provider: authn.ProviderClerk, Subject: "ck-2"},
	}}
	resolver := mapResolver{
		"sb-1": {ID: "u1", Role: model.RoleAdmin, SupabaseID: "sb-1"},
		"ck-1": {ID: "u2", Role: model.RoleUser, ClerkID: "ck-1"},
		"ck-2": {ID: "u3", Role: model.RoleUser, ClerkID: "ck-2", SupabaseID: "sb-3"},
	}
	r := gin.New()
	authed := r.Group("", Auth(resolver, supabase, clerk))
	authed.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserIDKey)+"|"+c.GetString(ContextAuthProviderKey))
	})
	authed.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.String(http.StatusOK, "admin") })
	r.GET("/identity", IdentityOnly(supabase, clerk), func(c *gin.Context) {
		c.String(http.StatusOK, GetIdentity(c).Email)
	})
	return r
}

func call(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthAcceptsBothProviders(t *testing.T) {
	r := authRouter()

	rec := call(r, "/me", "sb-token")
	require.Equal(t, "u1|supabase", rec.Body.String())
	require.Empty(t, rec.Header().Get(HeaderAuthMigration))

	rec = call(r, "/me", "ck-legacy")
	require.Equal(t, "u2|clerk", rec.Body.String())
	require.Equal(t, "required", rec.Header().Get(HeaderAuthMigration))

	rec = call(r, "/me", "ck-migrated")
	require.Equal(t, "u3|clerk", rec.Body.String())
	require.Empty(t, rec.Header().Get(HeaderAuthMigration))
}

func TestAuthRejections(t *testing.T) {
	r := authRouter()
	require.Equal(t, errcode.ErrUnauthorized, envelopeCode(t, call(r, "/me", "").Body.Bytes()))
	require.Equal(t, errcode.ErrUnauthorized, envelopeCode(t, call(r, "/me", "garbage").Body.Bytes()))
	require.Equal(t, errcode.ErrInviteRequired, envelopeCode(t, call(r, "/me", "invite-token").Body.Bytes()))
	require.Equal(t, errcode.ErrForbidden, envelopeCode(t, call(r, "/admin", "ck-legacy").Body.Bytes()))
	require.Equal(t, "admin", call(r, "/admin", "sb-token").Body.String())
}

func TestIdentityOnlySkipsAccountLookup(t *testing.T) {
	r := authRouter()
	require.Equal(t, "new@example.com", call(r, "/identity", "invite-token").Body.String())
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestIDKey)) })

	rec := call(r, "/", "")
	require.Len(t, rec.Body.String(), 36)
	require.Equal(t, rec.Body.String(), rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Body.String())
}
