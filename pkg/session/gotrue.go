package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// AuthError is an error response from the auth server
type AuthError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth request failed with status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth request failed with status %d: %s", e.Status, e.Message)
}

// Session is the result of a sign-in or sign-up. Token is nil when the server
// is waiting for the user to confirm their email address.
type Session struct {
	Identity Identity
	Token    *oauth2.Token
}

// AuthClient talks to a GoTrue-compatible auth server (the hosted backend's /auth/v1)
type AuthClient struct {
	baseURL    string
	apiKey     string
	jwtSecret  []byte
	httpClient *http.Client
}

type AuthOption func(*AuthClient)

// WithJWTSecret makes the client verify access token signatures and subjects
func WithJWTSecret(secret string) AuthOption {
	return func(c *AuthClient) {
		c.jwtSecret = []byte(secret)
	}
}

func WithAuthHTTPClient(httpClient *http.Client) AuthOption {
	return func(c *AuthClient) {
		c.httpClient = httpClient
	}
}

// NewAuthClient creates a client for the auth server under projectURL + "/auth/v1"
func NewAuthClient(projectURL, apiKey string, opts ...AuthOption) *AuthClient {
	if !strings.HasPrefix(projectURL, "http") {
		projectURL = "https://" + projectURL
	}

	c := &AuthClient{
		baseURL: strings.TrimSuffix(projectURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *authUser `json:"user"`

	// Sign-up awaiting confirmation returns the user itself
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// SignInWithPassword exchanges an email and password for a session
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", nil, credentials{Email: email, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	return c.toSession(resp)
}

// SignUp registers a new account. The returned session has no token when
// email confirmation is required.
func (c *AuthClient) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/signup", nil, credentials{Email: email, Password: password}, &resp); err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	return c.toSession(resp)
}

// Refresh exchanges a refresh token for a new session
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return c.toSession(resp)
}

// SignOut revokes the session's refresh tokens on the server
func (c *AuthClient) SignOut(ctx context.Context, tok *oauth2.Token) error {
	if tok == nil {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/logout", tok, nil, nil); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// RecoverPassword asks the server to email a password reset link
func (c *AuthClient) RecoverPassword(ctx context.Context, email string) error {
	if err := c.do(ctx, http.MethodPost, "/recover", nil, map[string]string{"email": email}, nil); err != nil {
		return fmt.Errorf("failed to request password reset: %w", err)
	}
	return nil
}

// TokenSource returns a source that serves tok until it expires and then refreshes it
func (c *AuthClient) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(tok, &refreshingSource{ctx: ctx, client: c, refreshToken: tok.RefreshToken})
}

// refreshingSource is only called by oauth2.ReuseTokenSource, which serialises calls
type refreshingSource struct {
	ctx          context.Context
	client       *AuthClient
	refreshToken string
}

func (s *refreshingSource) Token() (*oauth2.Token, error) {
	if s.refreshToken == "" {
		return nil, fmt.Errorf("session expired and no refresh token is available")
	}

	sess, err := s.client.Refresh(s.ctx, s.refreshToken)
	if err != nil {
		return nil, err
	}
	if sess.Token == nil {
		return nil, fmt.Errorf("refresh returned no token")
	}
	s.refreshToken = sess.Token.RefreshToken
	return sess.Token, nil
}

func (c *AuthClient) toSession(resp tokenResponse) (*Session, error) {
	var identity Identity
	switch {
	case resp.User != nil:
		identity = Identity{ID: resp.User.ID, Email: resp.User.Email}
	case resp.ID != "":
		identity = Identity{ID: resp.ID, Email: resp.Email}
	}

	if resp.AccessToken == "" {
		if identity.ID == "" {
			return nil, fmt.Errorf("auth response contained neither a user nor a token")
		}
		return &Session{Identity: identity}, nil
	}

	claims, err := ParseAccessToken(resp.AccessToken, c.jwtSecret)
	if err != nil {
		return nil, err
	}
	if identity.ID == "" {
		identity = Identity{ID: claims.Subject, Email: claims.Email}
	} else if identity.ID != claims.Subject {
		return nil, fmt.Errorf("token subject %s does not match user %s", claims.Subject, identity.ID)
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		tok.Expiry = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		tok.Expiry = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	case claims.ExpiresAt != nil:
		tok.Expiry = claims.ExpiresAt.Time
	}

	return &Session{Identity: identity, Token: tok}, nil
}

func (c *AuthClient) do(ctx context.Context, method, endpoint string, tok *oauth2.Token, body any, dest any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if tok != nil {
		tok.SetAuthHeader(req)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseAuthError(resp.StatusCode, respBody)
	}

	if dest == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseAuthError(status int, body []byte) error {
	authErr := &AuthError{Status: status, Message: strings.TrimSpace(string(body))}

	var parsed authErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, msg := range []string{parsed.ErrorDescription, parsed.Msg, parsed.Message, parsed.Error} {
			if msg != "" {
				authErr.Message = msg
				break
			}
		}
		authErr.Code = parsed.ErrorCode
		if authErr.Code == "" && parsed.ErrorDescription != "" {
			authErr.Code = parsed.Error
		}
	}
	return authErr
}
