package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/extract"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

const (
	sniffBytes   = 512
	maxNameRunes = 255
	purgeBatch   = 100
)

type DocumentService struct {
	docs    *repo.DocumentRepo
	chunks  *repo.ChunkRepo
	files   filestore.Store
	vectors vectorstore.Store
	ingest  *IngestService
	maxSize int64
}

func NewDocumentService(docs *repo.DocumentRepo, chunks *repo.ChunkRepo, files filestore.Store, vectors vectorstore.Store, ingest *IngestService, maxSize int64) *DocumentService {
	return &DocumentService{docs: docs, chunks: chunks, files: files, vectors: vectors, ingest: ingest, maxSize: maxSize}
}

type UploadInput struct {
	UserID      string
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// Upload stores the blob, creates the document row and hands it to the
// ingest pipeline. Ingest failures are recorded on the returned document,
// not returned as errors.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (*model.Document, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(in.Name, "\\", "/")))
	if name == "" || name == "." || name == "/" || in.Body == nil {
		return nil, appErr.ErrInvalid
	}
	if r := []rune(name); len(r) > maxNameRunes {
		name = string(r[:maxNameRunes])
	}
	if in.Size <= 0 {
		return nil, appErr.ErrEmptyDocument
	}
	if s.maxSize > 0 && in.Size > s.maxSize {
		return nil, appErr.ErrFileTooLarge
	}
	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if _, err := in.Body.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	_, mimeType, err := extract.Detect(name, in.ContentType, head[:n])
	if err != nil {
		return nil, err
	}

	logger := logutil.GetLogger(ctx).With(zap.String("user_id", in.UserID))
	now := timeutil.NowUnix()
	doc := &model.Document{
		ID:          newID(),
		UserID:      in.UserID,
		Name:        name,
		ContentType: mimeType,
		Size:        in.Size,
		Status:      model.DocumentStatusPending,
		Ctime:       now,
		Mtime:       now,
	}
	doc.FileKey = in.UserID + "/" + doc.ID
	if err := s.files.Save(ctx, doc.FileKey, in.Body, in.Size); err != nil {
		logger.Error("save upload failed", zap.Error(err))
		return nil, err
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if derr := s.files.Delete(ctx, doc.FileKey); derr != nil {
			logger.Warn("cleanup blob failed", zap.String("key", doc.FileKey), zap.Error(derr))
		}
		return nil, err
	}
	logger.Info("document uploaded", zap.String("document_id", doc.ID), zap.Int64("size", doc.Size))
	if err := s.ingest.Dispatch(ctx, doc); err != nil {
		logger.Warn("ingest after upload failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	return s.docs.GetByID(ctx, in.UserID, doc.ID)
}

func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*model.Document, error) {
	return s.docs.GetByID(ctx, userID, docID)
}

func (s *DocumentService) List(ctx context.Context, userID string, offset, limit uint) ([]model.Document, int, error) {
	docs, err := s.docs.List(ctx, userID, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.docs.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (s *DocumentService) Chunks(ctx context.Context, userID, docID string, offset, limit uint) ([]model.Chunk, error) {
	if _, err := s.docs.GetByID(ctx, userID, docID); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, docID, offset, limit)
}

// Reprocess runs ingest again. An empty userID is an admin acting on any
// document.
func (s *DocumentService) Reprocess(ctx context.Context, userID, docID string) (*model.Document, error) {
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status == model.DocumentStatusProcessing {
		return nil, appErr.ErrConflict
	}
	if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusPending, "", doc.ChunkCount, timeutil.NowUnix()); err != nil {
		return nil, err
	}
	if err := s.ingest.Dispatch(ctx, doc); err != nil {
		logutil.GetLogger(ctx).Warn("reprocess failed", zap.String("document_id", doc.ID), zap.Error(err))
	}
	return s.docs.GetByID(ctx, userID, docID)
}

// Delete hides the document immediately and removes its vectors and blob.
// Rows are purged later by the purge job.
func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	doc, err := s.docs.GetByID(ctx, userID, docID)
	if err != nil {
		return err
	}
	if err := s.docs.SoftDelete(ctx, userID, docID, timeutil.NowUnix()); err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	ids, err := s.chunks.IDsByDocument(ctx, docID)
	if err != nil {
		logger.Warn("list chunk ids failed", zap.Error(err))
	} else if err := vectorstore.IgnoreNotFound(s.vectors.DeleteByIDs(ctx, doc.UserID, ids)); err != nil {
		logger.Warn("delete vectors failed", zap.Error(err))
	}
	if err := s.files.Delete(ctx, doc.FileKey); err != nil {
		logger.Warn("delete blob failed", zap.Error(err))
	}
	return nil
}

// PurgeDeleted removes rows of documents soft deleted before cutoff.
func (s *DocumentService) PurgeDeleted(ctx context.Context, cutoff int64) (int, error) {
	docs, err := s.docs.ListDeletedBefore(ctx, cutoff, purgeBatch)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, doc := range docs {
		if err := s.files.Delete(ctx, doc.FileKey); err != nil && !errors.Is(err, filestore.ErrNotFound) {
			logutil.GetLogger(ctx).Warn("purge blob failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
		if err := s.chunks.DeleteByDocument(ctx, doc.ID); err != nil {
			return purged, err
		}
		if err := s.docs.HardDelete(ctx, doc.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// StuckDocuments lists documents that have not left pending or processing
// since before cutoff.
func (s *DocumentService) StuckDocuments(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error) {
	return s.docs.ListStuck(ctx, cutoff, limit)
}

func (s *DocumentService) Failed(ctx context.Context, offset, limit uint) ([]model.Document, error) {
	return s.docs.ListByStatus(ctx, model.DocumentStatusFailed, offset, limit)
}
