package service

import (
	"context"
	"errors"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docchat/internal/authn"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
)

const (
	MaxMigrationAttempts  = 3
	defaultMigrationBatch = 50
	migrationWorkers      = 4
	migrationFailedList   = 50
	maxMigrationErrorLen  = 500
)

type migrationUsers interface {
	ListUnmigrated(ctx context.Context, maxAttempts, limit int) ([]model.User, error)
	LinkSupabase(ctx context.Context, userID, supabaseID string, mtime int64) error
}

type migrationLog interface {
	Record(ctx context.Context, m *model.AuthMigration) error
	CountByStatus(ctx context.Context) (map[string]int, error)
	ListFailed(ctx context.Context, limit int) ([]model.AuthMigration, error)
}

type clerkDirectory interface {
	GetUser(ctx context.Context, clerkID string) (*authn.ClerkUser, error)
}

type supabaseDirectory interface {
	CreateUser(ctx context.Context, params authn.CreateUserParams) (*authn.SupabaseUser, error)
	FindUserByEmail(ctx context.Context, email string) (*authn.SupabaseUser, error)
}

// AuthMigrationService copies Clerk accounts into Supabase and links the
// resulting identity to the local user.
type AuthMigrationService struct {
	users    migrationUsers
	log      migrationLog
	clerk    clerkDirectory
	supabase supabaseDirectory
}

func NewAuthMigrationService(users migrationUsers, log migrationLog, clerk clerkDirectory, supabase supabaseDirectory) *AuthMigrationService {
	return &AuthMigrationService{users: users, log: log, clerk: clerk, supabase: supabase}
}

type MigrationReport struct {
	DryRun   bool     `json:"dry_run"`
	Scanned  int      `json:"scanned"`
	Migrated int      `json:"migrated"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Pending  []string `json:"pending,omitempty"`
}

type MigrationStatus struct {
	Counts map[string]int        `json:"counts"`
	Failed []model.AuthMigration `json:"failed"`
}

// Run migrates every eligible user in batches of batchSize. A dry run only
// lists the first batch that would be migrated.
func (s *AuthMigrationService) Run(ctx context.Context, batchSize int, dryRun bool) (*MigrationReport, error) {
	if s.clerk == nil || s.supabase == nil {
		return nil, appErr.ErrNotReady
	}
	if batchSize <= 0 {
		batchSize = defaultMigrationBatch
	}
	logger := logutil.GetLogger(ctx)
	report := &MigrationReport{DryRun: dryRun}
	for {
		users, err := s.users.ListUnmigrated(ctx, MaxMigrationAttempts, batchSize)
		if err != nil {
			return report, err
		}
		if len(users) == 0 {
			break
		}
		report.Scanned += len(users)
		if dryRun {
			for _, u := range users {
				report.Pending = append(report.Pending, u.Email)
			}
			break
		}
		if err := s.runBatch(ctx, users, report); err != nil {
			return report, err
		}
		if len(users) < batchSize {
			break
		}
	}
	logger.Info("auth migration finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("migrated", report.Migrated),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (s *AuthMigrationService) runBatch(ctx context.Context, users []model.User, report *MigrationReport) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(migrationWorkers)
	for i := range users {
		user := users[i]
		g.Go(func() error {
			outcome := s.migrateOne(gctx, &user)
			if err := s.log.Record(gctx, outcome); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome.Status {
			case model.MigrationMigrated:
				report.Migrated++
			case model.MigrationSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *AuthMigrationService) migrateOne(ctx context.Context, user *model.User) *model.AuthMigration {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", user.ID), zap.String("clerk_id", user.ClerkID))
	now := timeutil.NowUnix()
	outcome := &model.AuthMigration{UserID: user.ID, ClerkID: user.ClerkID, Ctime: now, Mtime: now}
	fail := func(status string, err error) *model.AuthMigration {
		logger.Warn("migrate user failed", zap.String("status", status), zap.Error(err))
		outcome.Status = status
		outcome.Error = clipRunes(err.Error(), maxMigrationErrorLen)
		return outcome
	}

	profile, err := s.clerk.GetUser(ctx, user.ClerkID)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			return fail(model.MigrationSkipped, errors.New("clerk user not found"))
		}
		return fail(model.MigrationFailed, err)
	}
	email := profile.Email
	if email == "" {
		email = user.Email
	}
	name := profile.FullName()
	if name == "" {
		name = user.Name
	}
	created, err := s.supabase.CreateUser(ctx, authn.CreateUserParams{
		Email:        email,
		EmailConfirm: true,
		UserMetadata: map[string]interface{}{
			"clerk_id":  user.ClerkID,
			"full_name": name,
		},
	})
	if errors.Is(err, authn.ErrAlreadyRegistered) {
		created, err = s.supabase.FindUserByEmail(ctx, email)
	}
	if err != nil {
		return fail(model.MigrationFailed, err)
	}
	if err := s.users.LinkSupabase(ctx, user.ID, created.ID, timeutil.NowUnix()); err != nil {
		return fail(model.MigrationFailed, err)
	}
	outcome.Status = model.MigrationMigrated
	outcome.SupabaseID = created.ID
	logger.Info("migrated user", zap.String("supabase_id", created.ID))
	return outcome
}

func (s *AuthMigrationService) Status(ctx context.Context) (*MigrationStatus, error) {
	counts, err := s.log.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.log.ListFailed(ctx, migrationFailedList)
	if err != nil {
		return nil, err
	}
	return &MigrationStatus{Counts: counts, Failed: failed}, nil
}
