package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/docchat/internal/ai"
	"github.com/xxxsen/docchat/internal/metrics"
	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

const (
	DefaultTopK           = 8
	DefaultMaxPerDocument = 3
	DefaultMinScore       = 0.15
	fetchFactor           = 3
)

type Candidate struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	Content      string  `json:"content"`
	Position     int     `json:"position"`
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`
	Score        float64 `json:"score"`
}

// Options tune one search. Zero values take the defaults; a negative
// MinScore disables the score floor.
type Options struct {
	TopK           int
	MaxPerDocument int
	MinScore       float64
	DocumentIDs    []string
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MaxPerDocument <= 0 {
		o.MaxPerDocument = DefaultMaxPerDocument
	}
	if o.MinScore == 0 {
		o.MinScore = DefaultMinScore
	}
	if o.MinScore < 0 {
		o.MinScore = 0
	}
	return o
}

type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}

type VectorIndex interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int, documentIDs []string) ([]vectorstore.Match, error)
}

type ChunkSource interface {
	KeywordSearch(ctx context.Context, userID string, terms, docIDs []string, limit int) ([]model.RankedChunk, error)
	ListByIDs(ctx context.Context, userID string, ids []string) ([]model.Chunk, error)
}

type Searcher struct {
	embedder Embedder
	vectors  VectorIndex
	chunks   ChunkSource
}

func NewSearcher(embedder Embedder, vectors VectorIndex, chunks ChunkSource) *Searcher {
	return &Searcher{embedder: embedder, vectors: vectors, chunks: chunks}
}

type Result struct {
	Intent     QueryIntent `json:"intent"`
	Candidates []Candidate `json:"candidates"`
	// Degraded names the leg that failed, if any.
	Degraded string `json:"degraded,omitempty"`
}

// HybridSearch blends vector similarity and keyword relevance over the
// chunks owned by userID. Either leg may fail on its own; the search only
// fails when both do.
func (s *Searcher) HybridSearch(ctx context.Context, userID, query string, opts Options) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || userID == "" {
		return nil, appErr.ErrInvalid
	}
	opts = opts.withDefaults()
	intent := AnalyzeQueryIntent(query)
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("intent", string(intent.Kind)))
	fetchK := opts.TopK * fetchFactor

	var (
		vectorHits  []Candidate
		keywordHits []model.RankedChunk
		vectorErr   error
		keywordErr  error
		g           errgroup.Group
	)
	g.Go(func() error {
		vectorHits, vectorErr = s.vectorLeg(ctx, userID, query, fetchK, opts.DocumentIDs)
		return nil
	})
	terms := append(append([]string{}, intent.ExactPhrases...), intent.Keywords...)
	if len(terms) > 0 {
		g.Go(func() error {
			keywordHits, keywordErr = s.chunks.KeywordSearch(ctx, userID, terms, opts.DocumentIDs, fetchK)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Intent: intent}
	if vectorErr != nil {
		metrics.SearchLegFailures.WithLabelValues("vector").Inc()
		logger.Warn("vector search failed, falling back to keywords", zap.Error(vectorErr))
		res.Degraded = "vector"
	}
	if keywordErr != nil {
		metrics.SearchLegFailures.WithLabelValues("keyword").Inc()
		logger.Warn("keyword search failed, falling back to vectors", zap.Error(keywordErr))
		res.Degraded = "keyword"
	}
	if vectorErr != nil && (keywordErr != nil || len(terms) == 0) {
		return nil, fmt.Errorf("hybrid search: %w", errors.Join(vectorErr, keywordErr))
	}

	merged := make(map[string]*Candidate, len(vectorHits)+len(keywordHits))
	for _, hit := range keywordHits {
		merged[hit.ID] = &Candidate{
			ChunkID:    hit.ID,
			DocumentID: hit.DocumentID,
			Content:    hit.Content,
			Position:   hit.Position,
		}
	}
	for _, hit := range vectorHits {
		if c, ok := merged[hit.ChunkID]; ok {
			c.VectorScore = hit.VectorScore
			continue
		}
		merged[hit.ChunkID] = &hit
	}

	vw, kw := intent.VectorWeight, intent.KeywordWeight
	if vectorErr != nil {
		vw, kw = 0, 1
	}
	candidates := make([]Candidate, 0, len(merged))
	for _, c := range merged {
		c.KeywordScore = CalculateKeywordRelevance(c.Content, intent.Keywords, intent.ExactPhrases)
		c.Score = clamp01(vw*c.VectorScore + kw*c.KeywordScore)
		if c.Score < opts.MinScore {
			continue
		}
		candidates = append(candidates, *c)
	}
	sortCandidates(candidates)
	res.Candidates = DiversifyResults(candidates, opts.MaxPerDocument, opts.TopK)
	logger.Debug("hybrid search finished",
		zap.Int("vector_hits", len(vectorHits)),
		zap.Int("keyword_hits", len(keywordHits)),
		zap.Int("results", len(res.Candidates)))
	return res, nil
}

// vectorLeg embeds the query, queries the index and loads the matched
// chunk rows. Matches without a live row belong to deleted documents and
// are dropped.
func (s *Searcher) vectorLeg(ctx context.Context, userID, query string, topK int, docIDs []string) ([]Candidate, error) {
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.vectors.Query(ctx, userID, vec, topK, docIDs)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	chunks, err := s.chunks.ListByIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("load vector matches: %w", err)
	}
	byID := make(map[string]model.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		ch, ok := byID[m.ID]
		if !ok {
			continue
		}
		out = append(out, Candidate{
			ChunkID:     ch.ID,
			DocumentID:  ch.DocumentID,
			Content:     ch.Content,
			Position:    ch.Position,
			VectorScore: clamp01(m.Score),
		})
	}
	return out, nil
}

func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.Position < b.Position
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
