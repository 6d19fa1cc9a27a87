package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/config"
	"github.com/xxxsen/docchat/internal/pkg/retry"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	ctx := context.Background()
	payload := []byte("hello docs")

	require.NoError(t, store.Save(ctx, "user-1/doc-1", bytes.NewReader(payload), int64(len(payload))))
	rc, err := store.Open(ctx, "user-1/doc-1")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, payload, got)

	require.NoError(t, store.Delete(ctx, "user-1/doc-1"))
	_, err = store.Open(ctx, "user-1/doc-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, "user-1/doc-1"))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s := &localStore{dir: t.TempDir()}
	require.Error(t, s.Save(context.Background(), "../escape", bytes.NewReader(nil), 0))
	_, err := s.Open(context.Background(), "")
	require.Error(t, err)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(config.FileStoreConfig{Type: "ftp"})
	require.Error(t, err)
	_, err = New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{}})
	require.Error(t, err)
}

type flakyStore struct {
	localStore
	failures int
	reads    []string
}

func (f *flakyStore) Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error {
	data, _ := io.ReadAll(r)
	f.reads = append(f.reads, string(data))
	if f.failures > 0 {
		f.failures--
		return errors.New("transient")
	}
	return nil
}

func TestRetryStoreRewindsReader(t *testing.T) {
	inner := &flakyStore{failures: 2}
	store := WithRetry(inner, retry.Policy{Tries: 3, Initial: time.Millisecond})
	require.NoError(t, store.Save(context.Background(), "k", bytes.NewReader([]byte("abc")), 3))
	require.Equal(t, []string{"abc", "abc", "abc"}, inner.reads)
}
