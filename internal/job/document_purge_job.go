package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type documentPurger interface {
	PurgeDeleted(ctx context.Context, cutoff int64) (int, error)
}

// DocumentPurgeJob hard deletes documents soft deleted more than
// afterDays ago.
type DocumentPurgeJob struct {
	docs      documentPurger
	afterDays int
}

func NewDocumentPurgeJob(docs documentPurger, afterDays int) *DocumentPurgeJob {
	return &DocumentPurgeJob{docs: docs, afterDays: afterDays}
}

func (j *DocumentPurgeJob) Name() string {
	return "document_purge"
}

func (j *DocumentPurgeJob) Run(ctx context.Context) error {
	days := j.afterDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	n, err := j.docs.PurgeDeleted(ctx, cutoff)
	if n > 0 {
		logutil.GetLogger(ctx).Info("deleted documents purged", zap.Int("count", n))
	}
	return err
}
