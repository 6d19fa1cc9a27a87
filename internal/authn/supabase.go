package authn

import (
	"context"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

type supabaseClaims struct {
	Email        string                 `json:"email,omitempty"`
	Role         string                 `json:"role,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	jwtlib.RegisteredClaims
}

// SupabaseVerifier checks Supabase Auth access tokens signed with the
// project's HS256 JWT secret.
type SupabaseVerifier struct {
	secret   []byte
	audience string
}

func NewSupabaseVerifier(secret, audience string) *SupabaseVerifier {
	return &SupabaseVerifier{secret: []byte(secret), audience: audience}
}

func (v *SupabaseVerifier) Provider() string {
	return ProviderSupabase
}

func (v *SupabaseVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(30 * time.Second),
	}
	if v.audience != "" {
		opts = append(opts, jwtlib.WithAudience(v.audience))
	}
	token, err := jwtlib.ParseWithClaims(tokenString, &supabaseClaims{}, func(token *jwtlib.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*supabaseClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	ident := &Identity{
		Provider: ProviderSupabase,
		Subject:  claims.Subject,
		Email:    strings.ToLower(strings.TrimSpace(claims.Email)),
	}
	for _, key := range []string{"full_name", "name"} {
		if name, ok := claims.UserMetadata[key].(string); ok && name != "" {
			ident.Name = name
			break
		}
	}
	return ident, nil
}

// SignSupabaseToken issues a token the verifier accepts. Used by tests and
// local tooling.
func SignSupabaseToken(secret, audience, subject, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := supabaseClaims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Audience:  jwtlib.ClaimStrings{audience},
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
}
