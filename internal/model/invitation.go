package model

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
	InvitationExpired  = "expired"
)

type Invitation struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	TokenHash      string `json:"-"`
	InvitedBy      string `json:"invited_by"`
	Status         string `json:"status"`
	ExpiresAt      int64  `json:"expires_at"`
	AcceptedAt     int64  `json:"accepted_at,omitempty"`
	AcceptedUserID string `json:"accepted_user_id,omitempty"`
	Ctime          int64  `json:"ctime"`
	Mtime          int64  `json:"mtime"`
}
