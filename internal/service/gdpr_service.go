package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/dbutil"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

type authUserDeleter interface {
	DeleteUser(ctx context.Context, id string) error
}

// GDPRService exports and erases everything stored for a user. Every run is
// logged in gdpr_requests.
type GDPRService struct {
	db       *sql.DB
	requests *repo.GDPRRepo
	files    filestore.Store
	vectors  vectorstore.Store
	auth     authUserDeleter
}

func NewGDPRService(db *sql.DB, files filestore.Store, vectors vectorstore.Store, auth authUserDeleter) *GDPRService {
	return &GDPRService{db: db, requests: repo.NewGDPRRepo(db), files: files, vectors: vectors, auth: auth}
}

func (s *GDPRService) begin(ctx context.Context, user *model.User, kind string) (*model.GDPRRequest, error) {
	now := timeutil.NowUnix()
	req := &model.GDPRRequest{
		ID:     newID(),
		UserID: user.ID,
		Email:  user.Email,
		Kind:   kind,
		Status: model.GDPRStatusRunning,
		Ctime:  now,
		Mtime:  now,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *GDPRService) finish(ctx context.Context, req *model.GDPRRequest, runErr error, detail string) {
	req.Status = model.GDPRStatusCompleted
	if runErr != nil {
		req.Status = model.GDPRStatusFailed
		detail = strings.TrimSpace(detail + " error=" + runErr.Error())
	}
	req.Detail = detail
	req.Mtime = timeutil.NowUnix()
	if err := s.requests.Finish(ctx, req.ID, req.Status, req.Detail, req.Mtime); err != nil {
		logutil.GetLogger(ctx).Error("finish gdpr request failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

// Export bundles the profile, documents, sessions and conversations of a user.
func (s *GDPRService) Export(ctx context.Context, userID string) (*model.UserExport, error) {
	user, err := repo.NewUserRepo(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	req, err := s.begin(ctx, user, model.GDPRKindExport)
	if err != nil {
		return nil, err
	}
	out, err := s.collect(ctx, user)
	detail := ""
	if out != nil {
		detail = fmt.Sprintf("documents=%d sessions=%d conversations=%d", len(out.Documents), len(out.Sessions), len(out.Conversations))
	}
	s.finish(ctx, req, err, detail)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GDPRService) collect(ctx context.Context, user *model.User) (*model.UserExport, error) {
	docs, err := repo.NewDocumentRepo(s.db).ListAllByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	sessions, err := repo.NewChatSessionRepo(s.db).List(ctx, user.ID, 0, 0)
	if err != nil {
		return nil, err
	}
	convs, err := repo.NewConversationRepo(s.db).ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &model.UserExport{
		ExportedAt:    timeutil.NowUnix(),
		User:          user,
		Documents:     docs,
		Sessions:      sessions,
		Conversations: convs,
	}, nil
}

// Erase removes external data first so a failed run can simply be retried,
// then deletes the rows and anonymises the account in one transaction.
func (s *GDPRService) Erase(ctx context.Context, userID string) (*model.GDPRRequest, error) {
	user, err := repo.NewUserRepo(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	req, err := s.begin(ctx, user, model.GDPRKindErasure)
	if err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("request_id", req.ID))
	var steps []string
	err = s.erase(ctx, user, func(step string) {
		steps = append(steps, step)
		logger.Info("gdpr erase step", zap.String("step", step))
	})
	s.finish(ctx, req, err, strings.Join(steps, " "))
	if err != nil {
		logger.Error("gdpr erase failed", zap.Error(err))
		return req, err
	}
	return req, nil
}

func (s *GDPRService) erase(ctx context.Context, user *model.User, step func(string)) error {
	docs, err := repo.NewDocumentRepo(s.db).ListAllByUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if err := vectorstore.IgnoreNotFound(s.vectors.DeleteNamespace(ctx, user.ID)); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	step("vectors=deleted")

	blobs := 0
	for _, doc := range docs {
		if doc.FileKey == "" {
			continue
		}
		if err := s.files.Delete(ctx, doc.FileKey); err != nil {
			return fmt.Errorf("delete blob %s: %w", doc.ID, err)
		}
		blobs++
	}
	step(fmt.Sprintf("blobs=%d", blobs))

	if user.SupabaseID != "" && s.auth != nil {
		if err := s.auth.DeleteUser(ctx, user.SupabaseID); err != nil {
			return fmt.Errorf("delete auth user: %w", err)
		}
		step("auth=deleted")
	}

	return dbutil.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		chunks, err := repo.NewChunkRepo(tx).DeleteByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		convs, err := repo.NewConversationRepo(tx).DeleteByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		sessions, err := repo.NewChatSessionRepo(tx).DeleteByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		documents, err := repo.NewDocumentRepo(tx).DeleteByUser(ctx, user.ID)
		if err != nil {
			return err
		}
		if err := repo.NewUserRepo(tx).Anonymise(ctx, user.ID, timeutil.NowUnix()); err != nil {
			return err
		}
		step(fmt.Sprintf("chunks=%d conversations=%d sessions=%d documents=%d user=anonymised", chunks, convs, sessions, documents))
		return nil
	})
}

func (s *GDPRService) List(ctx context.Context, kind string, offset, limit uint) ([]model.GDPRRequest, error) {
	return s.requests.List(ctx, kind, offset, limit)
}
