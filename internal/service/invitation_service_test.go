package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type memInvites struct {
	mu   sync.Mutex
	rows map[string]*model.Invitation
}

func (m *memInvites) Create(_ context.Context, inv *model.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.rows[inv.ID] = &cp
	return nil
}

func (m *memInvites) GetByID(_ context.Context, id string) (*model.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memInvites) FindPending(_ context.Context, email string, now int64) (*model.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.rows {
		if strings.EqualFold(inv.Email, email) && inv.Status == model.InvitationPending && inv.ExpiresAt > now {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (m *memInvites) List(_ context.Context, status string, _, _ uint) ([]model.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Invitation
	for _, inv := range m.rows {
		if status == "" || inv.Status == status {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memInvites) transition(id string, apply func(inv *model.Invitation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.rows[id]
	if !ok || inv.Status != model.InvitationPending {
		return appErr.ErrNotFound
	}
	apply(inv)
	return nil
}

func (m *memInvites) MarkAccepted(_ context.Context, id, userID string, now int64) error {
	return m.transition(id, func(inv *model.Invitation) {
		inv.Status, inv.AcceptedUserID, inv.AcceptedAt = model.InvitationAccepted, userID, now
	})
}

func (m *memInvites) Revoke(_ context.Context, id string, _ int64) error {
	return m.transition(id, func(inv *model.Invitation) { inv.Status = model.InvitationRevoked })
}

func (m *memInvites) ExpireBefore(_ context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, inv := range m.rows {
		if inv.Status == model.InvitationPending && inv.ExpiresAt <= now {
			inv.Status = model.InvitationExpired
			n++
		}
	}
	return n, nil
}

type capturedMail struct {
	to, subject, body string
}

type memMailer struct {
	sent []capturedMail
}

func (m *memMailer) Send(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, capturedMail{to: to, subject: subject, body: body})
	return nil
}

type memInviter struct {
	emails []string
}

func (m *memInviter) InviteUser(_ context.Context, email, _ string, _ map[string]interface{}) (*authn.SupabaseUser, error) {
	m.emails = append(m.emails, email)
	return &authn.SupabaseUser{ID: "sb-invited", Email: email}, nil
}

type inviteFixture struct {
	svc     *InvitationService
	invites *memInvites
	users   *memUsers
	mail    *memMailer
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()
	f := &inviteFixture{
		invites: &memInvites{rows: map[string]*model.Invitation{}},
		users:   newMemUsers(model.User{ID: "admin", Email: "admin@example.com", Role: model.RoleAdmin, SupabaseID: "sb-admin"}),
		mail:    &memMailer{},
	}
	accounts := NewAuthService(f.users, config.AuthConfig{})
	f.svc = NewInvitationService(f.invites, f.users, accounts, f.mail, nil, "https://docchat.example.com/", 0)
	return f
}

func TestInvitationLifecycle(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	inv, token, err := f.svc.Create(ctx, "admin", InviteInput{Email: " Guest@Example.com "})
	require.NoError(t, err)
	require.Equal(t, "guest@example.com", inv.Email)
	require.Equal(t, model.RoleUser, inv.Role)
	require.True(t, strings.HasPrefix(token, inv.ID+"."))
	require.NotContains(t, inv.TokenHash, strings.TrimPrefix(token, inv.ID+"."))

	require.Len(t, f.mail.sent, 1)
	require.Equal(t, "guest@example.com", f.mail.sent[0].to)
	require.Contains(t, f.mail.sent[0].body, "https://docchat.example.com/invite?token=")

	got, err := f.svc.Validate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, inv.ID, got.ID)

	_, err = f.svc.Accept(ctx, token, supabaseIdentity("sb-guest", "other@example.com"))
	require.ErrorIs(t, err, appErr.ErrForbidden)

	user, err := f.svc.Accept(ctx, token, supabaseIdentity("sb-guest", "GUEST@example.com"))
	require.NoError(t, err)
	require.Equal(t, model.RoleUser, user.Role)
	require.Equal(t, "sb-guest", user.SupabaseID)

	_, err = f.svc.Validate(ctx, token)
	require.ErrorIs(t, err, appErr.ErrInviteExpired)
}

func TestInvitationCreateRejects(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.Create(ctx, "admin", InviteInput{Email: "not-an-email"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, _, err = f.svc.Create(ctx, "admin", InviteInput{Email: "x@example.com", Role: "owner"})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	_, _, err = f.svc.Create(ctx, "admin", InviteInput{Email: "admin@example.com"})
	require.ErrorIs(t, err, appErr.ErrConflict)

	_, _, err = f.svc.Create(ctx, "admin", InviteInput{Email: "x@example.com"})
	require.NoError(t, err)
	_, _, err = f.svc.Create(ctx, "admin", InviteInput{Email: "X@example.com"})
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestInvitationBadTokens(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	inv, token, err := f.svc.Create(ctx, "admin", InviteInput{Email: "x@example.com", Role: model.RoleAdmin})
	require.NoError(t, err)

	for _, bad := range []string{"", "nodot", inv.ID + ".wrong", "missing.secret"} {
		_, err := f.svc.Validate(ctx, bad)
		require.ErrorIs(t, err, appErr.ErrNotFound, bad)
	}

	require.NoError(t, f.svc.Revoke(ctx, inv.ID))
	_, err = f.svc.Validate(ctx, token)
	require.ErrorIs(t, err, appErr.ErrInviteExpired)
}

func TestInvitationExpiry(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	inv, token, err := f.svc.Create(ctx, "admin", InviteInput{Email: "late@example.com"})
	require.NoError(t, err)
	f.invites.rows[inv.ID].ExpiresAt = 1

	_, err = f.svc.Validate(ctx, token)
	require.ErrorIs(t, err, appErr.ErrInviteExpired)
	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	expired, err := f.svc.List(ctx, model.InvitationExpired, 0, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
}

func TestInvitationAdminRoleAndSupabaseDelivery(t *testing.T) {
	f := newInviteFixture(t)
	inviter := &memInviter{}
	f.svc.mail = nil
	f.svc.inviter = inviter
	ctx := context.Background()

	_, token, err := f.svc.Create(ctx, "admin", InviteInput{Email: "ops@example.com", Role: model.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, []string{"ops@example.com"}, inviter.emails)

	user, err := f.svc.Accept(ctx, token, supabaseIdentity("sb-ops", "ops@example.com"))
	require.NoError(t, err)
	require.Equal(t, model.RoleAdmin, user.Role)
}
