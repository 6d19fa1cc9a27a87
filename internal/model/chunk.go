package model

// Chunk is a slice of a document's extracted text.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Position   int       `json:"position"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
	Ctime      int64     `json:"ctime"`
}

// RankedChunk is a chunk returned by full-text search with its SQL rank.
type RankedChunk struct {
	Chunk
	Rank float64 `json:"rank"`
}
