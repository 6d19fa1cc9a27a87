package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/extract"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/metrics"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/queue"
	"github.com/xxxsen/docchat/internal/search"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

const (
	defaultEmbedConcurrency = 4
	maxErrorMessage         = 500
)

type ingestDocuments interface {
	GetByID(ctx context.Context, userID, docID string) (*model.Document, error)
	UpdateStatus(ctx context.Context, docID string, status model.DocumentStatus, errMsg string, chunkCount int, mtime int64) error
}

type ingestChunks interface {
	IDsByDocument(ctx context.Context, docID string) ([]string, error)
	Replace(ctx context.Context, docID string, chunks []model.Chunk) error
}

// IngestService turns an uploaded blob into searchable chunks and vectors.
type IngestService struct {
	docs        ingestDocuments
	chunks      ingestChunks
	files       filestore.Store
	vectors     vectorstore.Store
	extractor   *extract.Extractor
	chunker     *ai.Chunker
	embedder    search.Embedder
	publisher   queue.Publisher
	concurrency int
}

func NewIngestService(docs ingestDocuments, chunks ingestChunks, files filestore.Store, vectors vectorstore.Store,
	extractor *extract.Extractor, chunker *ai.Chunker, embedder search.Embedder) *IngestService {
	return &IngestService{
		docs:        docs,
		chunks:      chunks,
		files:       files,
		vectors:     vectors,
		extractor:   extractor,
		chunker:     chunker,
		embedder:    embedder,
		concurrency: defaultEmbedConcurrency,
	}
}

// WithPublisher routes Dispatch through the ingest queue.
func (s *IngestService) WithPublisher(p queue.Publisher) *IngestService {
	s.publisher = p
	return s
}

// Dispatch queues doc for processing, or processes it inline when no queue
// is configured or publishing fails.
func (s *IngestService) Dispatch(ctx context.Context, doc *model.Document) error {
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, queue.IngestTask{DocumentID: doc.ID, UserID: doc.UserID})
		if err == nil {
			return nil
		}
		logutil.GetLogger(ctx).Warn("publish ingest task failed, processing inline",
			zap.String("document_id", doc.ID), zap.Error(err))
	}
	return s.Process(ctx, doc.ID)
}

// HandleTask is the queue consumer entry point.
func (s *IngestService) HandleTask(ctx context.Context, task queue.IngestTask) error {
	return s.Process(ctx, task.DocumentID)
}

// Process runs the whole pipeline for one document and records the outcome
// on the document row. Deleted documents are skipped.
func (s *IngestService) Process(ctx context.Context, docID string) error {
	start := time.Now()
	logger := logutil.GetLogger(ctx).With(zap.String("document_id", docID))
	doc, err := s.docs.GetByID(ctx, "", docID)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			logger.Info("document gone, skip ingest")
			return nil
		}
		return err
	}
	if err := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusProcessing, "", doc.ChunkCount, timeutil.NowUnix()); err != nil {
		return err
	}
	count, err := s.run(ctx, doc)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IngestTotal.WithLabelValues(string(model.DocumentStatusFailed)).Inc()
		logger.Error("ingest document failed", zap.Error(err))
		if uerr := s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed, failureMessage(err), 0, timeutil.NowUnix()); uerr != nil {
			logger.Error("mark document failed", zap.Error(uerr))
		}
		return err
	}
	metrics.IngestTotal.WithLabelValues(string(model.DocumentStatusCompleted)).Inc()
	logger.Info("document ingested", zap.Int("chunks", count), zap.Duration("cost", time.Since(start)))
	return s.docs.UpdateStatus(ctx, doc.ID, model.DocumentStatusCompleted, "", count, timeutil.NowUnix())
}

func (s *IngestService) run(ctx context.Context, doc *model.Document) (int, error) {
	rc, err := s.files.Open(ctx, doc.FileKey)
	if err != nil {
		return 0, fmt.Errorf("open blob: %w", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return 0, fmt.Errorf("read blob: %w", err)
	}
	result, err := s.extractor.Extract(ctx, doc.Name, doc.ContentType, data)
	if err != nil {
		return 0, err
	}
	pieces := s.chunker.Chunk(ctx, result.Text, result.Markdown())
	if len(pieces) == 0 {
		return 0, appErr.ErrEmptyDocument
	}

	embeddings := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range pieces {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, pieces[i].Content, ai.TaskRetrievalDocument)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", pieces[i].Position, err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	oldIDs, err := s.chunks.IDsByDocument(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	now := timeutil.NowUnix()
	chunks := make([]model.Chunk, 0, len(pieces))
	records := make([]vectorstore.Record, 0, len(pieces))
	live := make(map[string]struct{}, len(pieces))
	for i, p := range pieces {
		id := chunkID(doc.ID, p.Position)
		live[id] = struct{}{}
		chunks = append(chunks, model.Chunk{
			ID:         id,
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			Position:   p.Position,
			Content:    p.Content,
			TokenCount: p.TokenCount,
			Embedding:  embeddings[i],
			Ctime:      now,
		})
		records = append(records, vectorstore.Record{
			ID:         id,
			DocumentID: doc.ID,
			Position:   p.Position,
			Values:     embeddings[i],
		})
	}
	if err := s.chunks.Replace(ctx, doc.ID, chunks); err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}
	if err := s.vectors.Upsert(ctx, doc.UserID, records); err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}
	stale := make([]string, 0)
	for _, id := range oldIDs {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := s.vectors.DeleteByIDs(ctx, doc.UserID, stale); err != nil {
			logutil.GetLogger(ctx).Warn("delete stale vectors failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return len(chunks), nil
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, appErr.ErrUnsupportedFile):
		return "unsupported file type"
	case errors.Is(err, appErr.ErrEmptyDocument):
		return "no extractable text found"
	}
	return clipRunes(strings.ToValidUTF8(err.Error(), ""), maxErrorMessage)
}

// RecoverStuck re-dispatches documents stuck in pending or processing and
// returns how many were handed off.
func (s *IngestService) RecoverStuck(ctx context.Context, docs []model.Document) int {
	recovered := 0
	for i := range docs {
		if err := s.Dispatch(ctx, &docs[i]); err != nil {
			logutil.GetLogger(ctx).Warn("recover document failed", zap.String("document_id", docs[i].ID), zap.Error(err))
			continue
		}
		recovered++
	}
	return recovered
}
