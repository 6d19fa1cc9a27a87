package model

type ChatSession struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	Title       string   `json:"title"`
	DocumentIDs []string `json:"document_ids"`
	Ctime       int64    `json:"ctime"`
	Mtime       int64    `json:"mtime"`
}

type Source struct {
	Index      int     `json:"index"`
	DocumentID string  `json:"document_id"`
	Document   string  `json:"document"`
	ChunkID    string  `json:"chunk_id"`
	Position   int     `json:"position"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// Conversation is one persisted question/answer turn of a chat session.
type Conversation struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Question  string   `json:"question"`
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	Cached    bool     `json:"cached"`
	LatencyMs int64    `json:"latency_ms"`
	Ctime     int64    `json:"ctime"`
}
