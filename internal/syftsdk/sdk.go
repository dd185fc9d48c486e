package syftsdk

import (
	"context"

	"github.com/imroc/req/v3"

	"github.com/openmined/syftbus/internal/utils"
)

// SyftSDK talks to the sync server on behalf of one user.
type SyftSDK struct {
	client  *req.Client
	baseURL string
	Sync    *SyncAPI
	Auth    *AuthAPI
}

// New builds an SDK client bound to baseURL.
func New(baseURL string) (*SyftSDK, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	client := HTTPClient.Clone().SetBaseURL(baseURL)

	return &SyftSDK{
		client:  client,
		baseURL: baseURL,
		Sync:    newSyncAPI(client),
		Auth:    newAuthAPI(client),
	}, nil
}

// Login attaches the user identity to every subsequent call.
func (s *SyftSDK) Login(email string) error {
	if err := utils.ValidateEmail(email); err != nil {
		return ErrInvalidEmail
	}
	s.client.SetCommonHeader(HeaderSyftUser, email)
	s.client.SetCommonQueryParam("user", email)
	return nil
}

func (s *SyftSDK) BaseURL() string {
	return s.baseURL
}

// AuthAPI covers the identity endpoints.
type AuthAPI struct {
	client *req.Client
}

func newAuthAPI(client *req.Client) *AuthAPI {
	return &AuthAPI{client: client}
}

// Whoami echoes the identity the server sees for this client.
func (a *AuthAPI) Whoami(ctx context.Context) (*WhoamiResponse, error) {
	var result WhoamiResponse
	var apiErr APIError

	res, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&result).
		SetErrorResult(&apiErr).
		Get("/auth/whoami")

	if err := handleAPIError(res, err, "whoami"); err != nil {
		return nil, err
	}
	return &result, nil
}
