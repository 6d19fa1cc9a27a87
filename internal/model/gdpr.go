package model

const (
	GDPRKindExport  = "export"
	GDPRKindErasure = "erasure"

	GDPRStatusRunning   = "running"
	GDPRStatusCompleted = "completed"
	GDPRStatusFailed    = "failed"
)

type GDPRRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	Ctime  int64  `json:"ctime"`
	Mtime  int64  `json:"mtime"`
}

type UserExport struct {
	ExportedAt    int64          `json:"exported_at"`
	User          *User          `json:"user"`
	Documents     []Document     `json:"documents"`
	Sessions      []ChatSession  `json:"sessions"`
	Conversations []Conversation `json:"conversations"`
}
