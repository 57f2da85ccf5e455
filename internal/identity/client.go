// Package identity performs the OAuth2 authorization-code flow against the
// configured identity provider and normalizes the result into a Claim.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	defaultRequestTimeout = 5 * time.Second

	authorizeURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/authorize"
	tokenURLTemplate     = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	defaultProfileURL    = "https://graph.microsoft.com/v1.0/me"
)

var (
	// ErrProvider indicates the identity provider call failed, timed out, or
	// returned a non-success status.
	ErrProvider = errors.New("identity: provider request failed")
	// ErrIncompleteProfile indicates the provider returned no usable email.
	ErrIncompleteProfile = errors.New("identity: provider returned no usable profile")

	errMissingClientID     = errors.New("identity: client id required")
	errMissingClientSecret = errors.New("identity: client secret required")
	errMissingTenantID     = errors.New("identity: tenant id required")
	errMissingRedirectURL  = errors.New("identity: redirect url required")
	errMissingCode         = errors.New("identity: authorization code required")
)

// Claim is the normalized identity extracted from provider responses.
type Claim struct {
	Subject     string
	Email       string
	DisplayName string
}

// Token carries the raw provider access token and its remaining validity.
type Token struct {
	AccessToken string
	TTL         time.Duration
}

// Config describes the provider registration and endpoint overrides.
// AuthorizeURL, TokenURL and ProfileURL default to the tenant's
// login.microsoftonline.com / graph.microsoft.com endpoints when empty.
type Config struct {
	ClientID       string
	ClientSecret   string
	TenantID       string
	RedirectURL    string
	AuthorizeURL   string
	TokenURL       string
	ProfileURL     string
	RequestTimeout time.Duration
	StateTTL       time.Duration
	HTTPClient     *http.Client
	Clock          func() time.Time
}

// Client drives the authorization-code flow.
type Client struct {
	clientID     string
	clientSecret string
	redirectURL  string
	authorizeURL string
	tokenURL     string
	profileURL   string
	timeout      time.Duration
	httpClient   *http.Client
	clock        func() time.Time
	states       *StateStore
}

// NewClient constructs a Client, deriving provider endpoints from the tenant
// where no overrides are supplied.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errMissingRedirectURL
	}

	authorizeURL := strings.TrimSpace(cfg.AuthorizeURL)
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if authorizeURL == "" || tokenURL == "" {
		if strings.TrimSpace(cfg.TenantID) == "" {
			return nil, errMissingTenantID
		}
		if authorizeURL == "" {
			authorizeURL = fmt.Sprintf(authorizeURLTemplate, cfg.TenantID)
		}
		if tokenURL == "" {
			tokenURL = fmt.Sprintf(tokenURLTemplate, cfg.TenantID)
		}
	}
	profileURL := strings.TrimSpace(cfg.ProfileURL)
	if profileURL == "" {
		profileURL = defaultProfileURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		authorizeURL: authorizeURL,
		tokenURL:     tokenURL,
		profileURL:   profileURL,
		timeout:      timeout,
		httpClient:   httpClient,
		clock:        clock,
		states:       NewStateStore(cfg.StateTTL, clock),
	}, nil
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURL,
		Scopes:       []string{"openid", "profile", "email", "User.Read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authorizeURL,
			TokenURL: c.tokenURL,
		},
	}
}

// BeginLogin mints a fresh anti-forgery state value and returns the provider
// authorization URL carrying it. The state must be presented back on the
// callback and is valid for a single attempt.
func (c *Client) BeginLogin() (string, error) {
	state := newOpaqueString(24)
	c.states.Issue(state)
	redirectURL := c.oauthConfig().AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("prompt", "login"),
	)
	return redirectURL, nil
}

// ConsumeState verifies and retires the callback's state value.
func (c *Client) ConsumeState(state string) bool {
	if strings.TrimSpace(state) == "" {
		return false
	}
	return c.states.Consume(state)
}

// CompleteLogin exchanges the authorization code for a provider access token
// and resolves the caller's identity from the provider profile endpoint,
// falling back to id_token claims when the profile yields no email. Both
// outbound calls share a single request-scoped timeout.
func (c *Client) CompleteLogin(ctx context.Context, code string) (Claim, Token, error) {
	if strings.TrimSpace(code) == "" {
		return Claim{}, Token{}, errMissingCode
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	exchanged, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Claim{}, Token{}, fmt.Errorf("%w: token exchange: %v", ErrProvider, err)
	}
	if strings.TrimSpace(exchanged.AccessToken) == "" {
		return Claim{}, Token{}, fmt.Errorf("%w: token exchange returned no access token", ErrProvider)
	}

	claim, err := c.fetchProfile(ctx, exchanged.AccessToken)
	if err != nil {
		return Claim{}, Token{}, err
	}
	if claim.Email == "" {
		claim = mergeIDTokenClaims(claim, exchanged)
	}
	if claim.Email == "" {
		return Claim{}, Token{}, ErrIncompleteProfile
	}

	token := Token{AccessToken: exchanged.AccessToken, TTL: tokenTTL(exchanged)}
	return claim, token, nil
}

// tokenTTL reads the provider's expires_in directly. oauth2 stamps Expiry
// against the wall clock, so the fallback compares against the wall clock
// too rather than the injected one.
func tokenTTL(token *oauth2.Token) time.Duration {
	switch raw := token.Extra("expires_in").(type) {
	case float64:
		return time.Duration(raw) * time.Second
	case int64:
		return time.Duration(raw) * time.Second
	case json.Number:
		if seconds, err := raw.Int64(); err == nil {
			return time.Duration(seconds) * time.Second
		}
	case string:
		if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	if token.Expiry.IsZero() {
		return 0
	}
	return time.Until(token.Expiry)
}

type profileResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (c *Client) fetchProfile(ctx context.Context, accessToken string) (Claim, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL, nil)
	if err != nil {
		return Claim{}, fmt.Errorf("%w: profile request: %v", ErrProvider, err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Claim{}, fmt.Errorf("%w: profile fetch: %v", ErrProvider, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return Claim{}, fmt.Errorf("%w: profile fetch returned status %d", ErrProvider, response.StatusCode)
	}

	var profile profileResponse
	if err := json.NewDecoder(io.LimitReader(response.Body, 1<<20)).Decode(&profile); err != nil {
		return Claim{}, fmt.Errorf("%w: profile decode: %v", ErrProvider, err)
	}

	email := strings.TrimSpace(profile.Mail)
	if email == "" {
		email = strings.TrimSpace(profile.UserPrincipalName)
	}
	return Claim{
		Subject:     strings.TrimSpace(profile.ID),
		Email:       email,
		DisplayName: strings.TrimSpace(profile.DisplayName),
	}, nil
}

// mergeIDTokenClaims fills empty Claim fields from the id_token returned by
// the token exchange. The token arrived over the direct TLS exchange, so its
// claims are read without signature verification.
func mergeIDTokenClaims(claim Claim, exchanged *oauth2.Token) Claim {
	rawIDToken, ok := exchanged.Extra("id_token").(string)
	if !ok || strings.TrimSpace(rawIDToken) == "" {
		return claim
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, mapClaims); err != nil {
		return claim
	}

	if claim.Email == "" {
		claim.Email = stringClaim(mapClaims, "email")
	}
	if claim.Email == "" {
		claim.Email = stringClaim(mapClaims, "preferred_username")
	}
	if claim.DisplayName == "" {
		claim.DisplayName = stringClaim(mapClaims, "name")
	}
	if claim.Subject == "" {
		claim.Subject = stringClaim(mapClaims, "sub")
	}
	return claim
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
