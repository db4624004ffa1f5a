package ajaxapi

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hubwatch/ajax-bridge/internal/pkg/logging"
	"github.com/pkg/errors"
)

// AuthMode selects one of the two mutually exclusive auth schemes.
type AuthMode int

const (
	// AuthModeCompany uses a long lived X-Company-Token that never expires
	AuthModeCompany AuthMode = iota
	// AuthModeUser uses a short lived X-Session-Token with refresh rotation
	AuthModeUser
)

const (
	// Session tokens live 15 minutes; refresh 5 minutes early to guard
	// against clock skew and in-flight latency
	defaultSessionTokenTTL = 15 * time.Minute
	defaultRefreshMargin   = 5 * time.Minute

	defaultAuthTimeout = 30 * time.Second
)

// Credentials owns the auth mode, the current token pair and its expiry
// clock, and performs the login/refresh exchanges itself.
type Credentials struct {
	RefreshMargin time.Duration

	mode    AuthMode
	baseURL string
	apiKey  string

	// company mode
	companyID    string
	companyToken string

	// user mode
	username     string
	passwordHash string

	// serialises token exchanges so two callers never spend the same
	// refresh token; held across the expiry re-check and the exchange
	exchangeMu sync.Mutex

	mu           sync.Mutex
	sessionToken string
	refreshToken string
	userID       string
	tokenExpiry  time.Time

	sessionTTL time.Duration
	httpClient *http.Client
	now        func() time.Time
	fileName   string
}

// Version of the credential state that we marshal/unmarshal
type credsMarshal struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password-hash"`
	SessionToken string    `json:"session-token"`
	RefreshToken string    `json:"refresh-token"`
	UserID       string    `json:"user-id"`
	TokenExpiry  time.Time `json:"token-expiry"`
}

func newCredentials(baseURL, apiKey string) *Credentials {
	return &Credentials{
		RefreshMargin: defaultRefreshMargin,
		baseURL:       baseURL,
		apiKey:        apiKey,
		sessionTTL:    defaultSessionTokenTTL,
		httpClient:    &http.Client{Timeout: defaultAuthTimeout},
		now:           time.Now,
	}
}

// NewCompanyCredentials returns credentials for the company-token scheme.
func NewCompanyCredentials(baseURL, apiKey, companyID, companyToken string) *Credentials {
	c := newCredentials(baseURL, apiKey)
	c.mode = AuthModeCompany
	c.companyID = companyID
	c.companyToken = companyToken
	return c
}

// NewUserCredentials returns credentials for the session-token scheme.
// passwordHash is the SHA-256 hex digest of the account password, see
// HashPassword.
func NewUserCredentials(baseURL, apiKey, username, passwordHash string) *Credentials {
	c := newCredentials(baseURL, apiKey)
	c.mode = AuthModeUser
	c.username = username
	c.passwordHash = passwordHash
	return c
}

// HashPassword returns the SHA-256 hex digest the login endpoint expects
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func (c *Credentials) Mode() AuthMode { return c.mode }

// UserID returns the owning user id of the current session token pair
func (c *Credentials) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Tokens exports the current token set for external persistence.
func (c *Credentials) Tokens() (sessionToken, refreshToken, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken, c.refreshToken, c.userID
}

// SetTokens pre-seeds the token pair from persisted state. A zero expiry
// assumes the tokens were just issued.
func (c *Credentials) SetTokens(sessionToken, refreshToken, userID string, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionToken = sessionToken
	c.refreshToken = refreshToken
	c.userID = userID
	if expiry.IsZero() {
		expiry = c.now().Add(c.sessionTTL)
	}
	c.tokenExpiry = expiry
}

// basePath returns the URL prefix for authenticated operations
func (c *Credentials) basePath() string {
	if c.mode == AuthModeCompany {
		return "/company/" + c.companyID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return "/user/" + c.userID
}

// authHeaders returns the headers appropriate to the current auth mode
func (c *Credentials) authHeaders() map[string]string {
	headers := map[string]string{
		"X-Api-Key":    c.apiKey,
		"Content-Type": "application/json",
	}

	if c.mode == AuthModeCompany {
		headers["X-Company-Token"] = c.companyToken
		return headers
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionToken != "" {
		headers["X-Session-Token"] = c.sessionToken
	}
	return headers
}

func (c *Credentials) tokenExpired() bool {
	if c.mode == AuthModeCompany {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokenExpiry.IsZero() {
		return true
	}
	return !c.now().Before(c.tokenExpiry.Add(-c.RefreshMargin))
}

func (c *Credentials) canRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshToken != "" && c.userID != ""
}

// EnsureValidToken guarantees that on return the credentials are usable
// for at least one more request, or fails with an *AuthError.
func (c *Credentials) EnsureValidToken(ctx context.Context) error {
	if c.mode == AuthModeCompany {
		return nil
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	// a concurrent caller may have rotated the pair while we waited
	if !c.tokenExpired() {
		return nil
	}

	if c.canRefresh() {
		return c.RefreshSession(ctx)
	}

	c.mu.Lock()
	username, passwordHash := c.username, c.passwordHash
	c.mu.Unlock()
	if username != "" && passwordHash != "" {
		return c.Login(ctx, username, passwordHash)
	}

	return &AuthError{Reason: "no valid authentication method available"}
}

type tokenResponse struct {
	SessionToken string `json:"sessionToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// Login exchanges username and password hash for a fresh token pair.
func (c *Credentials) Login(ctx context.Context, username, passwordHash string) error {
	if c.mode == AuthModeCompany {
		return &APIError{StatusCode: 0, Body: []byte("login not supported in company auth mode")}
	}

	c.mu.Lock()
	c.username = username
	c.passwordHash = passwordHash
	c.mu.Unlock()

	body := map[string]string{
		"login":        username,
		"passwordHash": passwordHash,
		"userRole":     "USER",
	}

	tr, err := c.tokenExchange(ctx, "/login", body)
	if err != nil {
		return err
	}

	c.storeTokens(tr)
	logging.Logger(ctx).Debugf("login successful for user %s", tr.UserID)
	c.save(ctx)
	return nil
}

// RefreshSession rotates the token pair using the refresh token.
func (c *Credentials) RefreshSession(ctx context.Context) error {
	if c.mode == AuthModeCompany {
		return nil
	}

	c.mu.Lock()
	userID, refreshToken := c.userID, c.refreshToken
	c.mu.Unlock()

	if refreshToken == "" || userID == "" {
		return &AuthError{Reason: "cannot refresh - no refresh token"}
	}

	body := map[string]string{
		"userId":       userID,
		"refreshToken": refreshToken,
	}

	tr, err := c.tokenExchange(ctx, "/refresh", body)
	if err != nil {
		return err
	}

	c.storeTokens(tr)
	logging.Logger(ctx).Debug("session token refreshed")
	c.save(ctx)
	return nil
}

// storeTokens atomically replaces the token pair and its expiry;
// failures never reach here, so there is no partial mutation.
func (c *Credentials) storeTokens(tr *tokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionToken = tr.SessionToken
	c.refreshToken = tr.RefreshToken
	c.userID = tr.UserID
	c.tokenExpiry = c.now().Add(c.sessionTTL)
}

func (c *Credentials) tokenExchange(ctx context.Context, endpoint string, body map[string]string) (*tokenResponse, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "building token request")
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectionError{cause: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("token endpoint %s rejected the request", endpoint)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: bodyBytes}
	}

	tr := tokenResponse{}
	if err := json.Unmarshal(bodyBytes, &tr); err != nil {
		return nil, errors.Wrapf(err, "decoding token response from %s", endpoint)
	}

	if tr.SessionToken == "" {
		return nil, &AuthError{Reason: fmt.Sprintf("token endpoint %s returned no session token", endpoint)}
	}

	return &tr, nil
}

func hashOf(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// obfuscate tokens/secrets when stringified
func (c *Credentials) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == AuthModeCompany {
		return fmt.Sprintf("company [%s], companyToken [%s]", c.companyID, hashOf(c.companyToken))
	}
	return fmt.Sprintf("user [%s], userID [%s], sessionToken [%s], refreshToken [%s], expiry [%s]",
		c.username, c.userID, hashOf(c.sessionToken), hashOf(c.refreshToken), c.tokenExpiry)
}

// Save persists the rotating token state so restarts don't need a fresh
// login. Company mode has nothing worth persisting.
func (c *Credentials) Save(fileName string) error {
	c.mu.Lock()
	cm := credsMarshal{
		Username:     c.username,
		PasswordHash: c.passwordHash,
		SessionToken: c.sessionToken,
		RefreshToken: c.refreshToken,
		UserID:       c.userID,
		TokenExpiry:  c.tokenExpiry,
	}
	c.mu.Unlock()

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening credential state %s for write", fileName)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cm); err != nil {
		return errors.Wrapf(err, "saving credential state to %s", fileName)
	}

	// Store for later use
	c.fileName = fileName
	return nil
}

func (c *Credentials) save(ctx context.Context) {
	if c.fileName == "" {
		return
	}

	if err := c.Save(c.fileName); err != nil {
		logging.Logger(ctx).WithError(err).Warn("cannot save credential state")
	}
}

// Load restores a previously saved token state.
func (c *Credentials) Load(fileName string) error {
	cm := credsMarshal{}

	file, err := os.Open(fileName)
	if err != nil {
		return errors.Wrapf(err, "opening credential state %s for read", fileName)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cm); err != nil {
		return errors.Wrapf(err, "loading credential state from %s", fileName)
	}

	c.mu.Lock()
	if cm.Username != "" {
		c.username = cm.Username
	}
	if cm.PasswordHash != "" {
		c.passwordHash = cm.PasswordHash
	}
	c.sessionToken = cm.SessionToken
	c.refreshToken = cm.RefreshToken
	c.userID = cm.UserID
	c.tokenExpiry = cm.TokenExpiry
	c.mu.Unlock()

	// Store for later use
	c.fileName = fileName

	return nil
}
