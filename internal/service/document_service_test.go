package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/extract"
	"github.com/xxxsen/docchat/internal/filestore"
	"github.com/xxxsen/docchat/internal/model"
	"github.com/xxxsen/docchat/internal/pkg/retry"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/timeutil"
	"github.com/xxxsen/docchat/internal/repo"
	"github.com/xxxsen/docchat/internal/search"
	"github.com/xxxsen/docchat/internal/testutil"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return []float32{0.6, 0.8, 0}, nil
}

type docFixture struct {
	db      *sql.DB
	docs    *DocumentService
	gdpr    *GDPRService
	search  *search.Searcher
	users   *repo.UserRepo
	chunks  *repo.ChunkRepo
	files   filestore.Store
	vectors vectorstore.Store
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	db := testutil.OpenTestDB(t)
	files, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	vectors, err := vectorstore.New(config.VectorConfig{Type: "pgvector"}, vectorstore.Deps{DB: db})
	require.NoError(t, err)
	docRepo := repo.NewDocumentRepo(db)
	chunkRepo := repo.NewChunkRepo(db)
	ingest := NewIngestService(docRepo, chunkRepo, files, vectors, extract.New(nil), ai.NewChunker(ai.EstimateCounter{}, 40, 5), constEmbedder{})
	f := &docFixture{
		db:      db,
		docs:    NewDocumentService(docRepo, chunkRepo, files, vectors, ingest, 1<<20),
		gdpr:    NewGDPRService(db, files, vectors, nil),
		search:  search.NewSearcher(constEmbedder{}, vectors, chunkRepo),
		users:   repo.NewUserRepo(db),
		chunks:  chunkRepo,
		files:   files,
		vectors: vectors,
	}
	now := timeutil.NowUnix()
	require.NoError(t, f.users.Create(context.Background(), &model.User{
		ID: "u1", Email: "owner@example.com", Role: model.RoleUser, AuthProvider: model.AuthProviderSupabase, Ctime: now, Mtime: now,
	}))
	return f
}

func (f *docFixture) upload(t *testing.T, name, body string) *model.Document {
	t.Helper()
	doc, err := f.docs.Upload(context.Background(), UploadInput{
		UserID: "u1", Name: name, ContentType: "text/plain", Size: int64(len(body)), Body: bytes.NewReader([]byte(body)),
	})
	require.NoError(t, err)
	return doc
}

func TestDocumentUploadIngestAndSearch(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "../../handbook.txt", "Employees receive 25 vacation days.\n\nThe office closes at 6pm on Fridays.")
	require.Equal(t, "handbook.txt", doc.Name)
	require.Equal(t, model.DocumentStatusCompleted, doc.Status)
	require.Greater(t, doc.ChunkCount, 0)

	docs, total, err := f.docs.List(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, docs, 1)

	chunks, err := f.docs.Chunks(ctx, "u1", doc.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, chunks, doc.ChunkCount)

	res, err := f.search.HybridSearch(ctx, "u1", "vacation days", search.Options{TopK: 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	require.Equal(t, doc.ID, res.Candidates[0].DocumentID)
	require.Contains(t, res.Candidates[0].Content, "vacation")

	_, err = f.docs.Get(ctx, "someone-else", doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDocumentUploadValidation(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	_, err := f.docs.Upload(ctx, UploadInput{UserID: "u1", Name: "empty.txt", Size: 0, Body: bytes.NewReader(nil)})
	require.ErrorIs(t, err, appErr.ErrEmptyDocument)
	_, err = f.docs.Upload(ctx, UploadInput{UserID: "u1", Name: "big.txt", Size: 2 << 20, Body: bytes.NewReader([]byte("x"))})
	require.ErrorIs(t, err, appErr.ErrFileTooLarge)
	_, err = f.docs.Upload(ctx, UploadInput{UserID: "u1", Name: "tool.exe", Size: 4, Body: bytes.NewReader([]byte{0x4d, 0x5a, 0, 1})})
	require.ErrorIs(t, err, appErr.ErrUnsupportedFile)
}

func TestDocumentDeleteAndPurge(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "notes.txt", "Project kickoff is on Monday.")

	require.NoError(t, f.docs.Delete(ctx, "u1", doc.ID))
	_, err := f.docs.Get(ctx, "u1", doc.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
	matches, err := f.vectors.Query(ctx, "u1", []float32{0.6, 0.8, 0}, 5, nil)
	require.NoError(t, err)
	require.Empty(t, matches)

	purged, err := f.docs.PurgeDeleted(ctx, timeutil.NowUnix()+1)
	require.NoError(t, err)
	require.Equal(t, 1, purged)
	ids, err := f.chunks.IDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestDocumentReprocess(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "notes.txt", "Quarterly numbers are up.")
	again, err := f.docs.Reprocess(ctx, "", doc.ID)
	require.NoError(t, err)
	require.Equal(t, model.DocumentStatusCompleted, again.Status)
	require.Equal(t, doc.ChunkCount, again.ChunkCount)
}

func TestGDPRExportAndErase(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "private.txt", "My secret recipe uses cardamom.")

	export, err := f.gdpr.Export(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", export.User.Email)
	require.Len(t, export.Documents, 1)

	req, err := f.gdpr.Erase(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.GDPRStatusCompleted, req.Status)
	require.Contains(t, req.Detail, "documents=1")

	_, err = f.users.GetByID(ctx, "u1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	ids, err := f.chunks.IDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Empty(t, ids)

	log, err := f.gdpr.List(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, log, 2)
}

// missingNamespaceStore answers deletes the way a hosted index does for a
// tenant that never uploaded anything.
type missingNamespaceStore struct {
	vectorstore.Store
	deletes int
}

func (m *missingNamespaceStore) DeleteNamespace(_ context.Context, ns string) error {
	m.deletes++
	return retry.Permanent(fmt.Errorf("delete namespace %s: %w", ns, vectorstore.ErrNotFound))
}

func TestGDPREraseWithoutVectors(t *testing.T) {
	f := newDocFixture(t)
	ctx := context.Background()
	inner := &missingNamespaceStore{Store: f.vectors}
	vectors := vectorstore.WithRetry(inner, retry.Policy{Tries: 3, Initial: time.Millisecond, Max: time.Millisecond})
	gdpr := NewGDPRService(f.db, f.files, vectors, nil)

	req, err := gdpr.Erase(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, model.GDPRStatusCompleted, req.Status)
	require.Contains(t, req.Detail, "vectors=deleted")
	require.Equal(t, 1, inner.deletes)

	_, err = f.users.GetByID(ctx, "u1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
