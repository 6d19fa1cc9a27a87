package service

import (
	"context"
	"errors"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
)

type authUsers interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, userID string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByClerkID(ctx context.Context, clerkID string) (*model.User, error)
	GetBySupabaseID(ctx context.Context, supabaseID string) (*model.User, error)
	LinkSupabase(ctx context.Context, userID, supabaseID string, mtime int64) error
	UpdateRole(ctx context.Context, userID, role string, mtime int64) error
}

// AuthService maps verified provider identities onto local accounts.
type AuthService struct {
	users         authUsers
	allowRegister bool
	admins        map[string]struct{}
}

func NewAuthService(users authUsers, cfg config.AuthConfig) *AuthService {
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &AuthService{users: users, allowRegister: cfg.AllowRegister, admins: admins}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *AuthService) isAdminEmail(email string) bool {
	_, ok := s.admins[normalizeEmail(email)]
	return ok
}

// Resolve dispatches on the identity provider.
func (s *AuthService) Resolve(ctx context.Context, id *authn.Identity) (*model.User, error) {
	switch id.Provider {
	case authn.ProviderSupabase:
		return s.ResolveSupabase(ctx, id)
	case authn.ProviderClerk:
		return s.ResolveClerk(ctx, id)
	default:
		return nil, appErr.ErrUnauthorized
	}
}

// ResolveSupabase finds the account for a Supabase identity. Accounts that
// predate Supabase are linked by email. Unknown identities are provisioned
// only when registration is open or the email is a configured admin.
func (s *AuthService) ResolveSupabase(ctx context.Context, id *authn.Identity) (*model.User, error) {
	user, err := s.users.GetBySupabaseID(ctx, id.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, appErr.ErrNotFound) {
		return nil, err
	}
	if linked, err := s.linkByEmail(ctx, id); err == nil || !errors.Is(err, appErr.ErrNotFound) {
		return linked, err
	}
	switch {
	case s.isAdminEmail(id.Email):
		return s.create(ctx, id, model.RoleAdmin)
	case s.allowRegister:
		return s.create(ctx, id, model.RoleUser)
	default:
		return nil, appErr.ErrInviteRequired
	}
}

// ResolveClerk only recognises existing accounts; new sign ups go through
// Supabase.
func (s *AuthService) ResolveClerk(ctx context.Context, id *authn.Identity) (*model.User, error) {
	user, err := s.users.GetByClerkID(ctx, id.Subject)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return nil, appErr.ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// Provision returns the account for id, creating it with role or raising an
// existing account to admin when role asks for it. Roles are never lowered.
func (s *AuthService) Provision(ctx context.Context, id *authn.Identity, role string) (*model.User, error) {
	if role != model.RoleAdmin {
		role = model.RoleUser
	}
	user, err := s.lookup(ctx, id)
	if errors.Is(err, appErr.ErrNotFound) {
		if s.isAdminEmail(id.Email) {
			role = model.RoleAdmin
		}
		return s.create(ctx, id, role)
	}
	if err != nil {
		return nil, err
	}
	if role == model.RoleAdmin && !user.IsAdmin() {
		if err := s.users.UpdateRole(ctx, user.ID, model.RoleAdmin, timeutil.NowUnix()); err != nil {
			return nil, err
		}
		user.Role = model.RoleAdmin
	}
	return user, nil
}

func (s *AuthService) lookup(ctx context.Context, id *authn.Identity) (*model.User, error) {
	switch id.Provider {
	case authn.ProviderSupabase:
		user, err := s.users.GetBySupabaseID(ctx, id.Subject)
		if err == nil || !errors.Is(err, appErr.ErrNotFound) {
			return user, err
		}
		return s.linkByEmail(ctx, id)
	case authn.ProviderClerk:
		return s.users.GetByClerkID(ctx, id.Subject)
	default:
		return nil, appErr.ErrUnauthorized
	}
}

func (s *AuthService) linkByEmail(ctx context.Context, id *authn.Identity) (*model.User, error) {
	if id.Email == "" {
		return nil, appErr.ErrNotFound
	}
	user, err := s.users.GetByEmail(ctx, id.Email)
	if err != nil {
		return nil, err
	}
	if user.SupabaseID != "" && user.SupabaseID != id.Subject {
		return nil, appErr.ErrConflict
	}
	now := timeutil.NowUnix()
	if err := s.users.LinkSupabase(ctx, user.ID, id.Subject, now); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("linked supabase identity by email",
		zap.String("user_id", user.ID), zap.String("supabase_id", id.Subject))
	user.SupabaseID = id.Subject
	user.AuthProvider = model.AuthProviderSupabase
	user.Mtime = now
	return user, nil
}

func (s *AuthService) create(ctx context.Context, id *authn.Identity, role string) (*model.User, error) {
	if id.Provider != authn.ProviderSupabase || id.Email == "" {
		return nil, appErr.ErrUnauthorized
	}
	now := timeutil.NowUnix()
	user := &model.User{
		ID:           newID(),
		Email:        normalizeEmail(id.Email),
		Name:         strings.TrimSpace(id.Name),
		Role:         role,
		AuthProvider: model.AuthProviderSupabase,
		SupabaseID:   id.Subject,
		Ctime:        now,
		Mtime:        now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("provisioned user",
		zap.String("user_id", user.ID), zap.String("role", role))
	return user, nil
}
