package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docchat/internal/model"
)

const recoverBatch = 50

type stuckLister interface {
	StuckDocuments(ctx context.Context, cutoff int64, limit uint) ([]model.Document, error)
}

type redispatcher interface {
	RecoverStuck(ctx context.Context, docs []model.Document) int
}

// IngestRecoveryJob re-queues documents that stayed pending or processing
// longer than stuckAfter, e.g. after a worker crash.
type IngestRecoveryJob struct {
	docs       stuckLister
	ingest     redispatcher
	stuckAfter time.Duration
}

func NewIngestRecoveryJob(docs stuckLister, ingest redispatcher, stuckAfter time.Duration) *IngestRecoveryJob {
	return &IngestRecoveryJob{docs: docs, ingest: ingest, stuckAfter: stuckAfter}
}

func (j *IngestRecoveryJob) Name() string {
	return "ingest_recovery"
}

func (j *IngestRecoveryJob) Run(ctx context.Context) error {
	stuckAfter := j.stuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 30 * time.Minute
	}
	cutoff := time.Now().Add(-stuckAfter).Unix()
	docs, err := j.docs.StuckDocuments(ctx, cutoff, recoverBatch)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	n := j.ingest.RecoverStuck(ctx, docs)
	logutil.GetLogger(ctx).Info("stuck documents redispatched", zap.Int("found", len(docs)), zap.Int("recovered", n))
	return nil
}
