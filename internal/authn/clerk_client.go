package authn

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	appErr "github.com/xxxsen/docchat/internal/pkg/errors"
)

type ClerkUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

func (u *ClerkUser) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type clerkUserPayload struct {
	ID                    string `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

// ClerkClient reads users from the Clerk backend API.
type ClerkClient struct {
	api *apiClient
}

func NewClerkClient(apiURL, secretKey string) *ClerkClient {
	return &ClerkClient{api: newAPIClient("clerk", apiURL, map[string]string{
		"Authorization": "Bearer " + secretKey,
	}, 10, 5)}
}

func (c *ClerkClient) GetUser(ctx context.Context, clerkID string) (*ClerkUser, error) {
	var payload clerkUserPayload
	if err := c.api.do(ctx, http.MethodGet, "/users/"+url.PathEscape(clerkID), nil, &payload); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	user := &ClerkUser{ID: payload.ID, FirstName: payload.FirstName, LastName: payload.LastName}
	for _, addr := range payload.EmailAddresses {
		if user.Email == "" || addr.ID == payload.PrimaryEmailAddressID {
			user.Email = strings.ToLower(addr.EmailAddress)
		}
	}
	if user.Email == "" {
		return nil, errors.New("clerk user has no email address")
	}
	return user, nil
}
