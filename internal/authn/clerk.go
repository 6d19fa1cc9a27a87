package authn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ClerkVerifier checks Clerk session tokens against the instance JWKS.
// Keys are cached and refreshed in the background.
type ClerkVerifier struct {
	jwksURL           string
	cache             *jwk.Cache
	authorizedParties map[string]struct{}
}

func NewClerkVerifier(ctx context.Context, jwksURL string, authorizedParties []string) (*ClerkVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", jwksURL, err)
	}
	parties := make(map[string]struct{}, len(authorizedParties))
	for _, p := range authorizedParties {
		if p = strings.TrimSpace(p); p != "" {
			parties[p] = struct{}{}
		}
	}
	return &ClerkVerifier{jwksURL: jwksURL, cache: cache, authorizedParties: parties}, nil
}

func (v *ClerkVerifier) Provider() string {
	return ProviderClerk
}

func (v *ClerkVerifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	keyset, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get jwks: %w", err)
	}
	token, err := jwt.Parse([]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.Subject() == "" {
		return nil, ErrInvalidToken
	}
	if len(v.authorizedParties) > 0 {
		azp, _ := token.Get("azp")
		party, _ := azp.(string)
		if _, ok := v.authorizedParties[party]; !ok {
			return nil, fmt.Errorf("%w: unauthorized party %q", ErrInvalidToken, party)
		}
	}
	ident := &Identity{Provider: ProviderClerk, Subject: token.Subject()}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			ident.Email = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if name, ok := token.Get("name"); ok {
		if s, ok := name.(string); ok {
			ident.Name = s
		}
	}
	return ident, nil
}
