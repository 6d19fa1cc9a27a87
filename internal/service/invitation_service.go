package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/secret"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
)

const (
	defaultInviteTTLDays = 7
	maxInviteTTLDays     = 90
	inviteSecretBytes    = 24
)

type invitationStore interface {
	Create(ctx context.Context, inv *model.Invitation) error
	GetByID(ctx context.Context, id string) (*model.Invitation, error)
	FindPending(ctx context.Context, email string, now int64) (*model.Invitation, error)
	List(ctx context.Context, status string, offset, limit uint) ([]model.Invitation, error)
	MarkAccepted(ctx context.Context, id, userID string, now int64) error
	Revoke(ctx context.Context, id string, now int64) error
	ExpireBefore(ctx context.Context, now int64) (int64, error)
}

type inviteUsers interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type accountProvisioner interface {
	Provision(ctx context.Context, id *authn.Identity, role string) (*model.User, error)
}

// supabaseInviter sends the hosted Supabase invite mail when no mailer is set.
type supabaseInviter interface {
	InviteUser(ctx context.Context, email, redirectTo string, data map[string]interface{}) (*authn.SupabaseUser, error)
}

type InvitationService struct {
	invites   invitationStore
	users     inviteUsers
	accounts  accountProvisioner
	mail      EmailSender
	inviter   supabaseInviter
	publicURL string
	ttlDays   int
}

func NewInvitationService(invites invitationStore, users inviteUsers, accounts accountProvisioner,
	mail EmailSender, inviter supabaseInviter, publicURL string, ttlDays int) *InvitationService {
	if ttlDays <= 0 {
		ttlDays = defaultInviteTTLDays
	}
	return &InvitationService{
		invites:   invites,
		users:     users,
		accounts:  accounts,
		mail:      mail,
		inviter:   inviter,
		publicURL: strings.TrimRight(publicURL, "/"),
		ttlDays:   ttlDays,
	}
}

type InviteInput struct {
	Email   string
	Role    string
	TTLDays int
}

// Create issues an invitation and returns it together with the one-time
// token. Delivery failures are logged; the token stays valid.
func (s *InvitationService) Create(ctx context.Context, inviterID string, in InviteInput) (*model.Invitation, string, error) {
	email := normalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") || strings.ContainsAny(email, " \r\n") {
		return nil, "", appErr.ErrInvalid
	}
	role := in.Role
	if role == "" {
		role = model.RoleUser
	}
	if role != model.RoleUser && role != model.RoleAdmin {
		return nil, "", appErr.ErrInvalid
	}
	ttl := in.TTLDays
	if ttl <= 0 {
		ttl = s.ttlDays
	}
	if ttl > maxInviteTTLDays {
		return nil, "", appErr.ErrInvalid
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, "", appErr.ErrConflict
	} else if !errors.Is(err, appErr.ErrNotFound) {
		return nil, "", err
	}
	now := timeutil.NowUnix()
	if _, err := s.invites.FindPending(ctx, email, now); err == nil {
		return nil, "", appErr.ErrConflict
	} else if !errors.Is(err, appErr.ErrNotFound) {
		return nil, "", err
	}

	plain := secret.RandomHex(inviteSecretBytes)
	hash, err := secret.Hash(plain)
	if err != nil {
		return nil, "", err
	}
	inv := &model.Invitation{
		ID:        newID(),
		Email:     email,
		Role:      role,
		TokenHash: hash,
		InvitedBy: inviterID,
		Status:    model.InvitationPending,
		ExpiresAt: now + int64(ttl)*int64((24*time.Hour)/time.Second),
		Ctime:     now,
		Mtime:     now,
	}
	if err := s.invites.Create(ctx, inv); err != nil {
		return nil, "", err
	}
	token := inv.ID + "." + plain
	s.deliver(ctx, inv, token)
	return inv, token, nil
}

func (s *InvitationService) inviteLink(token string) string {
	return s.publicURL + "/invite?token=" + url.QueryEscape(token)
}

func (s *InvitationService) deliver(ctx context.Context, inv *model.Invitation, token string) {
	logger := logutil.GetLogger(ctx).With(zap.String("invitation_id", inv.ID))
	link := s.inviteLink(token)
	if s.mail != nil {
		body := fmt.Sprintf("You have been invited to DocChat.\n\nAccept the invitation here:\n%s\n\nThe link expires on %s.\n",
			link, time.Unix(inv.ExpiresAt, 0).UTC().Format("2006-01-02 15:04 MST"))
		if err := s.mail.Send(ctx, inv.Email, "You're invited to DocChat", body); err != nil {
			logger.Warn("send invitation mail failed", zap.Error(err))
		}
		return
	}
	if s.inviter != nil {
		if _, err := s.inviter.InviteUser(ctx, inv.Email, link, map[string]interface{}{"invitation_id": inv.ID}); err != nil {
			logger.Warn("supabase invite failed", zap.Error(err))
		}
		return
	}
	logger.Info("no mail transport configured, invitation link must be shared manually")
}

func splitInviteToken(token string) (string, string, bool) {
	id, plain, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || id == "" || plain == "" {
		return "", "", false
	}
	return id, plain, true
}

// Validate returns the pending invitation a token refers to.
func (s *InvitationService) Validate(ctx context.Context, token string) (*model.Invitation, error) {
	id, plain, ok := splitInviteToken(token)
	if !ok {
		return nil, appErr.ErrNotFound
	}
	inv, err := s.invites.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := secret.Compare(inv.TokenHash, plain); err != nil {
		return nil, appErr.ErrNotFound
	}
	if inv.Status != model.InvitationPending || inv.ExpiresAt <= timeutil.NowUnix() {
		return nil, appErr.ErrInviteExpired
	}
	return inv, nil
}

// Accept binds the invitation to the caller's identity. The identity's email
// must match the invited address.
func (s *InvitationService) Accept(ctx context.Context, token string, id *authn.Identity) (*model.User, error) {
	inv, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if id == nil || normalizeEmail(id.Email) != normalizeEmail(inv.Email) {
		return nil, appErr.ErrForbidden
	}
	user, err := s.accounts.Provision(ctx, id, inv.Role)
	if err != nil {
		return nil, err
	}
	if err := s.invites.MarkAccepted(ctx, inv.ID, user.ID, timeutil.NowUnix()); err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("invitation accepted",
		zap.String("invitation_id", inv.ID), zap.String("user_id", user.ID))
	return user, nil
}

func (s *InvitationService) List(ctx context.Context, status string, offset, limit uint) ([]model.Invitation, error) {
	return s.invites.List(ctx, status, offset, limit)
}

func (s *InvitationService) Revoke(ctx context.Context, id string) error {
	return s.invites.Revoke(ctx, id, timeutil.NowUnix())
}

// ExpireStale flips overdue pending invitations to expired.
func (s *InvitationService) ExpireStale(ctx context.Context) (int64, error) {
	return s.invites.ExpireBefore(ctx, timeutil.NowUnix())
}
