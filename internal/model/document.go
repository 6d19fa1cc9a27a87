package model

type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	ContentType string         `json:"content_type"`
	Size        int64          `json:"size"`
	FileKey     string         `json:"-"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	State       int            `json:"state"`
	Ctime       int64          `json:"ctime"`
	Mtime       int64          `json:"mtime"`
}
