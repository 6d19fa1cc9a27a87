package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/search"
)

func envelope(t *testing.T, w *httptest.ResponseRecorder) (int, json.RawMessage) {
	t.Helper()
	var env struct {
		Code int             `json:"code"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Code, env.Data
}

func TestPageBounds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		query  string
		offset uint
		limit  uint
	}{
		{"", 0, defaultPageSize},
		{"?offset=-3&limit=0", 0, defaultPageSize},
		{"?offset=40&limit=10", 40, 10},
		{"?limit=1000", 0, maxPageSize},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
		offset, limit := page(c)
		require.Equal(t, tt.offset, offset, tt.query)
		require.Equal(t, tt.limit, limit, tt.query)
	}
}

func TestHandleErrorMapsSentinels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		code int
	}{
		{appErr.ErrNotFound, errcode.ErrNotFound},
		{fmt.Errorf("load session: %w", appErr.ErrForbidden), errcode.ErrForbidden},
		{appErr.ErrFileTooLarge, errcode.ErrFileTooLarge},
		{appErr.ErrInviteExpired, errcode.ErrInviteExpired},
		{errors.New("boom"), errcode.ErrInternal},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		handleError(c, tt.err)
		code, _ := envelope(t, w)
		require.Equal(t, tt.code, code, tt.err.Error())
	}
}

type recordingSearcher struct {
	userID string
	opts   search.Options
}

func (s *recordingSearcher) HybridSearch(_ context.Context, userID, query string, opts search.Options) (*search.Result, error) {
	if query == "" {
		return nil, appErr.ErrInvalid
	}
	s.userID = userID
	s.opts = opts
	return &search.Result{Candidates: []search.Candidate{{ChunkID: "c1", DocumentID: "d1", Score: 0.5}}}, nil
}

func TestSearchHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	searcher := &recordingSearcher{}
	h := NewSearchHandler(searcher, 2)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "u1")
		c.Next()
	})
	r.POST("/search", h.Search)

	w := postJSON(r, "/search", gin.H{"query": "refund policy", "top_k": 5, "document_ids": []string{"d1"}}, "")
	code, data := envelope(t, w)
	require.Equal(t, 0, code)
	require.Contains(t, string(data), `"chunk_id":"c1"`)
	require.Equal(t, "u1", searcher.userID)
	require.Equal(t, 5, searcher.opts.TopK)
	require.Equal(t, 2, searcher.opts.MaxPerDocument)
	require.Equal(t, []string{"d1"}, searcher.opts.DocumentIDs)

	w = postJSON(r, "/search", gin.H{"query": "x", "top_k": 500}, "")
	code, _ = envelope(t, w)
	require.Equal(t, errcode.ErrInvalid, code)

	w = postJSON(r, "/search", gin.H{"query": ""}, "")
	code, _ = envelope(t, w)
	require.Equal(t, errcode.ErrInvalid, code)
}
