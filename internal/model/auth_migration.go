package model

const (
	MigrationMigrated = "migrated"
	MigrationFailed   = "failed"
	MigrationSkipped  = "skipped"
)

type AuthMigration struct {
	UserID     string `json:"user_id"`
	ClerkID    string `json:"clerk_id"`
	SupabaseID string `json:"supabase_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Attempts   int    `json:"attempts"`
	Ctime      int64  `json:"ctime"`
	Mtime      int64  `json:"mtime"`
}
