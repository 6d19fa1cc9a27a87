package service

import (
	"context"

	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/repo"
)

const statsWindowDays = 7

type AdminService struct {
	stats   *repo.StatsRepo
	invites *repo.InvitationRepo
}

func NewAdminService(stats *repo.StatsRepo, invites *repo.InvitationRepo) *AdminService {
	return &AdminService{stats: stats, invites: invites}
}

// Stats returns platform totals and daily activity for the last week.
func (s *AdminService) Stats(ctx context.Context) (*model.AdminStats, error) {
	stats, err := s.stats.Collect(ctx, timeutil.DaysAgoUnix(statsWindowDays))
	if err != nil {
		return nil, err
	}
	if stats.PendingInvites, err = s.invites.CountPending(ctx, timeutil.NowUnix()); err != nil {
		return nil, err
	}
	return stats, nil
}
