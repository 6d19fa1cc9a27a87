package model

type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

type AdminStats struct {
	Users             int            `json:"users"`
	Admins            int            `json:"admins"`
	UnmigratedUsers   int            `json:"unmigrated_users"`
	Documents         int            `json:"documents"`
	DocumentsByStatus map[string]int `json:"documents_by_status"`
	StorageBytes      int64          `json:"storage_bytes"`
	Chunks            int            `json:"chunks"`
	Sessions          int            `json:"sessions"`
	Conversations     int            `json:"conversations"`
	CachedAnswers     int            `json:"cached_answers"`
	CacheHitRatio     float64        `json:"cache_hit_ratio"`
	PendingInvites    int            `json:"pending_invites"`
	DailyQuestions    []DailyCount   `json:"daily_questions"`
	DailyUploads      []DailyCount   `json:"daily_uploads"`
}
