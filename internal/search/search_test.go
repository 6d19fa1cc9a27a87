package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docchat/internal/model"
	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/vectorstore"
)

func TestAnalyzeQueryIntent(t *testing.T) {
	tests := []struct {
		query    string
		kind     IntentKind
		vector   float64
		keyword  float64
		keywords []string
		phrases  []string
	}{
		{`"error code" in logs`, IntentExact, 0.4, 0.6, []string{"error", "code", "logs"}, []string{"error code"}},
		{"where is config_loader defined", IntentExact, 0.4, 0.6, []string{"config", "loader", "defined"}, nil},
		{"What is retrieval augmented generation?", IntentDefinition, 0.6, 0.4, []string{"retrieval", "augmented", "generation"}, nil},
		{"How to configure the ingest workers", IntentProcedural, 0.65, 0.35, []string{"configure", "ingest", "workers"}, nil},
		{"Compare postgres vs pinecone", IntentComparative, 0.6, 0.4, []string{"postgres", "pinecone"}, nil},
		{"Why does chunk overlap matter", IntentConceptual, 0.8, 0.2, []string{"chunk", "overlap", "matter"}, nil},
		{"quarterly revenue forecast summary", IntentGeneral, 0.7, 0.3, []string{"quarterly", "revenue", "forecast", "summary"}, nil},
		{"budget", IntentGeneral, 0.6, 0.4, []string{"budget"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			intent := AnalyzeQueryIntent(tt.query)
			require.Equal(t, tt.kind, intent.Kind)
			require.InDelta(t, tt.vector, intent.VectorWeight, 1e-9)
			require.InDelta(t, tt.keyword, intent.KeywordWeight, 1e-9)
			require.Equal(t, tt.keywords, intent.Keywords)
			if tt.phrases == nil {
				require.Empty(t, intent.ExactPhrases)
			} else {
				require.Equal(t, tt.phrases, intent.ExactPhrases)
			}
		})
	}
}

func TestExtractKeywordsDedupes(t *testing.T) {
	require.Equal(t, []string{"vector", "search"}, ExtractKeywords("Vector search, VECTOR search! a"))
}

func TestCalculateKeywordRelevance(t *testing.T) {
	require.Zero(t, CalculateKeywordRelevance("anything", nil, []string{"anything"}))

	got := CalculateKeywordRelevance("Pinecone stores vectors. Pinecone is managed.", []string{"pinecone", "postgres"}, nil)
	require.InDelta(t, (2.0/3.5)/2*0.5, got, 1e-9)

	got = CalculateKeywordRelevance("The error code is 42", []string{"error", "code"}, []string{"error code"})
	require.InDelta(t, 0.6, got, 1e-9)

	got = CalculateKeywordRelevance("alpha alpha alpha alpha", []string{"alpha"}, []string{"alpha alpha", "alpha alpha alpha", "alpha"})
	require.Equal(t, 1.0, got)
}

func docs(ids ...string) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, Candidate{ChunkID: id + "-" + string(rune('0'+i)), DocumentID: id})
	}
	return out
}

func chunkIDs(cands []Candidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.ChunkID)
	}
	return ids
}

func TestDiversifyResults(t *testing.T) {
	in := docs("A", "A", "A", "A", "B", "C")

	require.Equal(t, []string{"A-0", "A-1", "B-4", "C-5", "A-2"}, chunkIDs(DiversifyResults(in, 2, 5)))
	require.Equal(t, []string{"A-0", "A-1", "B-4"}, chunkIDs(DiversifyResults(in, 2, 3)))
	require.Equal(t, []string{"A-0", "A-1"}, chunkIDs(DiversifyResults(in, 0, 2)))
	require.Len(t, DiversifyResults(in, 1, 0), 6)
	require.Empty(t, DiversifyResults(nil, 3, 5))
}

func TestSortCandidatesTieBreak(t *testing.T) {
	in := []Candidate{
		{ChunkID: "d", DocumentID: "b", Position: 0, Score: 0.5, VectorScore: 0.2},
		{ChunkID: "c", DocumentID: "a", Position: 1, Score: 0.5, VectorScore: 0.2},
		{ChunkID: "b", DocumentID: "a", Position: 0, Score: 0.5, VectorScore: 0.2},
		{ChunkID: "a", DocumentID: "z", Position: 0, Score: 0.5, VectorScore: 0.4},
		{ChunkID: "e", DocumentID: "z", Position: 0, Score: 0.9},
	}
	sortCandidates(in)
	require.Equal(t, []string{"e", "a", "b", "c", "d"}, chunkIDs(in))
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeIndex struct {
	matches   []vectorstore.Match
	namespace string
	topK      int
	docIDs    []string
}

func (f *fakeIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, documentIDs []string) ([]vectorstore.Match, error) {
	f.namespace = namespace
	f.topK = topK
	f.docIDs = documentIDs
	return f.matches, nil
}

type fakeChunks struct {
	rows       map[string]model.Chunk
	keywordIDs []string
	keywordErr error
	terms      []string
}

func (f *fakeChunks) KeywordSearch(ctx context.Context, userID string, terms, docIDs []string, limit int) ([]model.RankedChunk, error) {
	f.terms = terms
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	out := make([]model.RankedChunk, 0, len(f.keywordIDs))
	for _, id := range f.keywordIDs {
		out = append(out, model.RankedChunk{Chunk: f.rows[id], Rank: 0.1})
	}
	return out, nil
}

func (f *fakeChunks) ListByIDs(ctx context.Context, userID string, ids []string) ([]model.Chunk, error) {
	out := make([]model.Chunk, 0, len(ids))
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func newFixture() (*fakeIndex, *fakeChunks) {
	index := &fakeIndex{matches: []vectorstore.Match{
		{ID: "gone", DocumentID: "d9", Score: 0.95},
		{ID: "c1", DocumentID: "d1", Score: 0.9},
		{ID: "c2", DocumentID: "d1", Position: 1, Score: 0.5},
		{ID: "c4", DocumentID: "d2", Position: 1, Score: 0.3},
	}}
	chunks := &fakeChunks{
		rows: map[string]model.Chunk{
			"c1": {ID: "c1", DocumentID: "d1", Position: 0, Content: "pinecone namespace isolation keeps tenants apart"},
			"c2": {ID: "c2", DocumentID: "d1", Position: 1, Content: "unrelated text about invoices"},
			"c3": {ID: "c3", DocumentID: "d2", Position: 0, Content: "namespace"},
			"c4": {ID: "c4", DocumentID: "d2", Position: 1, Content: "pinecone namespace isolation pinecone namespace isolation"},
		},
		keywordIDs: []string{"c3", "c4"},
	}
	return index, chunks
}

const fixtureQuery = "pinecone namespace isolation"

func TestHybridSearchBlendsBothLegs(t *testing.T) {
	index, chunks := newFixture()
	s := NewSearcher(&fakeEmbedder{}, index, chunks)

	res, err := s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{TopK: 5, DocumentIDs: []string{"d1", "d2"}})
	require.NoError(t, err)
	require.Empty(t, res.Degraded)
	require.Equal(t, IntentGeneral, res.Intent.Kind)
	require.Equal(t, []string{"c1", "c4", "c2"}, chunkIDs(res.Candidates))
	require.InDelta(t, 0.7*0.9+0.3*0.4, res.Candidates[0].Score, 1e-9)
	require.InDelta(t, 0.7*0.3+0.3*(2.0/3.5), res.Candidates[1].Score, 1e-9)
	require.InDelta(t, 0.35, res.Candidates[2].Score, 1e-9)

	require.Equal(t, "u1", index.namespace)
	require.Equal(t, 15, index.topK)
	require.Equal(t, []string{"d1", "d2"}, index.docIDs)
	require.Equal(t, []string{"pinecone", "namespace", "isolation"}, chunks.terms)
}

func TestHybridSearchDiversifies(t *testing.T) {
	index, chunks := newFixture()
	s := NewSearcher(&fakeEmbedder{}, index, chunks)

	res, err := s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{TopK: 2, MaxPerDocument: 1})
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c4"}, chunkIDs(res.Candidates))
}

func TestHybridSearchDegradesToKeywords(t *testing.T) {
	index, chunks := newFixture()
	s := NewSearcher(&fakeEmbedder{err: errors.New("embedder down")}, index, chunks)

	res, err := s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{})
	require.NoError(t, err)
	require.Equal(t, "vector", res.Degraded)
	require.Equal(t, []string{"c4"}, chunkIDs(res.Candidates))
	require.InDelta(t, 2.0/3.5, res.Candidates[0].Score, 1e-9)
}

func TestHybridSearchDegradesToVectors(t *testing.T) {
	index, chunks := newFixture()
	chunks.keywordErr = errors.New("db down")
	s := NewSearcher(&fakeEmbedder{}, index, chunks)

	res, err := s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{})
	require.NoError(t, err)
	require.Equal(t, "keyword", res.Degraded)
	require.Equal(t, []string{"c1", "c4", "c2"}, chunkIDs(res.Candidates))
}

func TestHybridSearchFailsWhenBothLegsFail(t *testing.T) {
	index, chunks := newFixture()
	chunks.keywordErr = errors.New("db down")
	s := NewSearcher(&fakeEmbedder{err: errors.New("embedder down")}, index, chunks)

	_, err := s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{})
	require.Error(t, err)

	// A stop-word only query has no keyword leg to fall back on.
	_, err = s.HybridSearch(context.Background(), "u1", "what is the", Options{})
	require.Error(t, err)
}

func TestHybridSearchRejectsEmptyQuery(t *testing.T) {
	index, chunks := newFixture()
	s := NewSearcher(&fakeEmbedder{}, index, chunks)
	_, err := s.HybridSearch(context.Background(), "u1", "   ", Options{})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestHybridSearchMinScore(t *testing.T) {
	index, chunks := newFixture()
	s := NewSearcher(&fakeEmbedder{}, index, chunks)

	res, err := s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{MinScore: 0.5})
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, chunkIDs(res.Candidates))

	res, err = s.HybridSearch(context.Background(), "u1", fixtureQuery, Options{MinScore: -1})
	require.NoError(t, err)
	require.Equal(t, []string{"c1", "c4", "c2", "c3"}, chunkIDs(res.Candidates))
}
