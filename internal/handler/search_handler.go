package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docchat/internal/pkg/errcode"
	"github.com/xxxsen/docchat/internal/pkg/response"
	"github.com/xxxsen/docchat/internal/search"
)

const maxSearchTopK = 50

type hybridSearcher interface {
	HybridSearch(ctx context.Context, userID, query string, opts search.Options) (*search.Result, error)
}

type SearchHandler struct {
	searcher       hybridSearcher
	maxPerDocument int
}

func NewSearchHandler(searcher hybridSearcher, maxPerDocument int) *SearchHandler {
	return &SearchHandler{searcher: searcher, maxPerDocument: maxPerDocument}
}

type searchRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids"`
	TopK        int      `json:"top_k"`
	MinScore    float64  `json:"min_score"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.TopK < 0 || req.TopK > maxSearchTopK {
		response.Error(c, errcode.ErrInvalid, "top_k out of range")
		return
	}
	result, err := h.searcher.HybridSearch(c.Request.Context(), getUserID(c), req.Query, search.Options{
		TopK:           req.TopK,
		MaxPerDocument: h.maxPerDocument,
		MinScore:       req.MinScore,
		DocumentIDs:    req.DocumentIDs,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}
