package authn

import (
	"context"
	"errors"
)

const (
	ProviderSupabase = "supabase"
	ProviderClerk    = "clerk"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is what a verified bearer token says about its holder.
type Identity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

type Verifier interface {
	Provider() string
	Verify(ctx context.Context, token string) (*Identity, error)
}
