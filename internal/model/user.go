package model

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	AuthProviderClerk    = "clerk"
	AuthProviderSupabase = "supabase"
)

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	AuthProvider string `json:"auth_provider"`
	ClerkID      string `json:"clerk_id,omitempty"`
	SupabaseID   string `json:"supabase_id,omitempty"`
	State        int    `json:"state"`
	Ctime        int64  `json:"ctime"`
	Mtime        int64  `json:"mtime"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Migrated reports whether the account already has a Supabase identity.
func (u *User) Migrated() bool {
	return u != nil && u.SupabaseID != ""
}
