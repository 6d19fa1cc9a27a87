package service

import (
	"context"
	"strings"

	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/repo"
)

const maxUserNameRunes = 100

type UserService struct {
	users *repo.UserRepo
}

func NewUserService(users *repo.UserRepo) *UserService {
	return &UserService{users: users}
}

func (s *UserService) Get(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *UserService) UpdateName(ctx context.Context, userID, name string) (*model.User, error) {
	name = clipRunes(strings.TrimSpace(name), maxUserNameRunes)
	if err := s.users.UpdateName(ctx, userID, name, timeutil.NowUnix()); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

func (s *UserService) List(ctx context.Context, query string, offset, limit uint) ([]model.User, int, error) {
	users, err := s.users.List(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.users.Count(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// SetRole changes a user's role. Admins cannot demote themselves.
func (s *UserService) SetRole(ctx context.Context, actorID, userID, role string) (*model.User, error) {
	if role != model.RoleAdmin && role != model.RoleUser {
		return nil, appErr.ErrInvalid
	}
	if actorID == userID && role != model.RoleAdmin {
		return nil, appErr.ErrForbidden
	}
	if err := s.users.UpdateRole(ctx, userID, role, timeutil.NowUnix()); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}
