package authn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

var ErrAlreadyRegistered = errors.New("email already registered")

const supabaseUsersPerPage = 200

type SupabaseUser struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

type CreateUserParams struct {
	Email        string                 `json:"email"`
	EmailConfirm bool                   `json:"email_confirm"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

// SupabaseAdmin calls the GoTrue admin endpoints with the service role key.
type SupabaseAdmin struct {
	api *apiClient
}

func NewSupabaseAdmin(projectURL, serviceRoleKey string) *SupabaseAdmin {
	return &SupabaseAdmin{api: newAPIClient("supabase", strings.TrimRight(projectURL, "/")+"/auth/v1", map[string]string{
		"apikey":        serviceRoleKey,
		"Authorization": "Bearer " + serviceRoleKey,
	}, 5, 5)}
}

func (s *SupabaseAdmin) CreateUser(ctx context.Context, params CreateUserParams) (*SupabaseUser, error) {
	var user SupabaseUser
	if err := s.api.do(ctx, http.MethodPost, "/admin/users", params, &user); err != nil {
		if isAlreadyRegistered(err) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	return &user, nil
}

func isAlreadyRegistered(err error) bool {
	var apiErr *APIError
	if !asAPIError(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusUnprocessableEntity && apiErr.Status != http.StatusConflict && apiErr.Status != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(apiErr.Body)
	return strings.Contains(body, "already been registered") || strings.Contains(body, "email_exists") || strings.Contains(body, "already registered")
}

// FindUserByEmail pages through the admin user list. GoTrue has no email
// filter on this endpoint.
func (s *SupabaseAdmin) FindUserByEmail(ctx context.Context, email string) (*SupabaseUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for page := 1; ; page++ {
		var resp struct {
			Users []SupabaseUser `json:"users"`
		}
		path := fmt.Sprintf("/admin/users?page=%d&per_page=%d", page, supabaseUsersPerPage)
		if err := s.api.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Users {
			if strings.EqualFold(resp.Users[i].Email, email) {
				return &resp.Users[i], nil
			}
		}
		if len(resp.Users) < supabaseUsersPerPage {
			return nil, appErr.ErrNotFound
		}
	}
}

func (s *SupabaseAdmin) DeleteUser(ctx context.Context, id string) error {
	err := s.api.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil, nil)
	if statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// InviteUser sends the Supabase invite mail. redirectTo may be empty.
func (s *SupabaseAdmin) InviteUser(ctx context.Context, email, redirectTo string, data map[string]interface{}) (*SupabaseUser, error) {
	path := "/invite"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	var user SupabaseUser
	if err := s.api.do(ctx, http.MethodPost, path, map[string]interface{}{"email": email, "data": data}, &user); err != nil {
		if isAlreadyRegistered(err) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	return &user, nil
}

func asAPIError(err error, target **APIError) bool {
	return errors.As(err, target)
}
