package authn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
	"github.com/xxxsen/docchat/internal/pkg/retry"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func TestSupabaseVerifier(t *testing.T) {
	v := NewSupabaseVerifier(testSecret, "authenticated")
	ctx := context.Background()

	token, err := SignSupabaseToken(testSecret, "authenticated", "sb-1", "Alice@Example.com", time.Hour)
	require.NoError(t, err)
	ident, err := v.Verify(ctx, token)
	require.NoError(t, err)
	require.Equal(t, ProviderSupabase, ident.Provider)
	require.Equal(t, "sb-1", ident.Subject)
	require.Equal(t, "alice@example.com", ident.Email)

	expired, err := SignSupabaseToken(testSecret, "authenticated", "sb-1", "a@example.com", -time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongAud, err := SignSupabaseToken(testSecret, "anon", "sb-1", "a@example.com", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, wrongAud)
	require.ErrorIs(t, err, ErrInvalidToken)

	wrongKey, err := SignSupabaseToken("another-secret-another-secret-another", "authenticated", "sb-1", "a@example.com", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(ctx, wrongKey)
	require.ErrorIs(t, err, ErrInvalidToken)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "sb-1"})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(ctx, unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func newClerkFixture(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, "clerk-test"))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := json.Marshal(set)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	}))
	t.Cleanup(srv.Close)
	return priv, srv.URL + "/.well-known/jwks.json"
}

func signClerkToken(t *testing.T, priv *rsa.PrivateKey, subject, azp string, exp time.Time) string {
	t.Helper()
	token := jwt.New()
	require.NoError(t, token.Set(jwt.SubjectKey, subject))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now().Add(-time.Minute)))
	require.NoError(t, token.Set(jwt.ExpirationKey, exp))
	require.NoError(t, token.Set("azp", azp))
	require.NoError(t, token.Set("email", "Bob@Example.com"))
	key, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "clerk-test"))
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestClerkVerifier(t *testing.T) {
	priv, jwksURL := newClerkFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	v, err := NewClerkVerifier(ctx, jwksURL, []string{"https://app.example.com"})
	require.NoError(t, err)

	ident, err := v.Verify(ctx, signClerkToken(t, priv, "user_2abc", "https://app.example.com", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, ProviderClerk, ident.Provider)
	require.Equal(t, "user_2abc", ident.Subject)
	require.Equal(t, "bob@example.com", ident.Email)

	_, err = v.Verify(ctx, signClerkToken(t, priv, "user_2abc", "https://evil.example.com", time.Now().Add(time.Hour)))
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(ctx, signClerkToken(t, priv, "user_2abc", "https://app.example.com", time.Now().Add(-time.Hour)))
	require.ErrorIs(t, err, ErrInvalidToken)
}

var fastPolicy = retry.Policy{Tries: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}

func TestClerkClientGetUser(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/users/user_1":
			if n == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"id":"user_1","first_name":"Ada","last_name":"Lovelace",
				"primary_email_address_id":"idn_2",
				"email_addresses":[{"id":"idn_1","email_address":"old@example.com"},{"id":"idn_2","email_address":"Ada@Example.com"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClerkClient(srv.URL+"/v1", "sk_test")
	c.api.policy = fastPolicy
	user, err := c.GetUser(context.Background(), "user_1")
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", user.Email)
	require.Equal(t, "Ada Lovelace", user.FullName())
	require.Equal(t, int32(2), calls.Load())

	_, err = c.GetUser(context.Background(), "user_missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestSupabaseAdmin(t *testing.T) {
	var (
		mu      sync.Mutex
		created map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "service-key", r.Header.Get("apikey"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/auth/v1/admin/users":
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			mu.Lock()
			created = body
			mu.Unlock()
			if body["email"] == "taken@example.com" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"sb-new","email":"new@example.com"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/auth/v1/admin/users":
			if r.URL.Query().Get("page") == "1" {
				users := make([]SupabaseUser, supabaseUsersPerPage)
				for i := range users {
					users[i] = SupabaseUser{ID: "filler", Email: "filler@example.com"}
				}
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"users": users})
				return
			}
			_, _ = w.Write([]byte(`{"users":[{"id":"sb-taken","email":"Taken@example.com"}]}`))
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	admin := NewSupabaseAdmin(srv.URL, "service-key")
	admin.api.policy = fastPolicy
	ctx := context.Background()

	user, err := admin.CreateUser(ctx, CreateUserParams{
		Email:        "new@example.com",
		EmailConfirm: true,
		UserMetadata: map[string]interface{}{"clerk_id": "user_1"},
	})
	require.NoError(t, err)
	require.Equal(t, "sb-new", user.ID)
	mu.Lock()
	require.Equal(t, true, created["email_confirm"])
	require.Equal(t, map[string]interface{}{"clerk_id": "user_1"}, created["user_metadata"])
	mu.Unlock()

	_, err = admin.CreateUser(ctx, CreateUserParams{Email: "taken@example.com"})
	require.True(t, errors.Is(err, ErrAlreadyRegistered))

	found, err := admin.FindUserByEmail(ctx, "taken@example.com")
	require.NoError(t, err)
	require.Equal(t, "sb-taken", found.ID)

	require.NoError(t, admin.DeleteUser(ctx, "sb-gone"))
}
