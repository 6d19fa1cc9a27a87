package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type inviteExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

type InvitationExpiryJob struct {
	invites inviteExpirer
}

func NewInvitationExpiryJob(invites inviteExpirer) *InvitationExpiryJob {
	return &InvitationExpiryJob{invites: invites}
}

func (j *InvitationExpiryJob) Name() string {
	return "invitation_expiry"
}

func (j *InvitationExpiryJob) Run(ctx context.Context) error {
	n, err := j.invites.ExpireStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("invitations expired", zap.Int64("count", n))
	}
	return nil
}
