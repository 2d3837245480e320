package githubauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/errors"
	"github.com/terraform-ibm-modules/tim-mcp-sub000/pkg/logger"
)

const (
	// DefaultRefreshMargin renews installation tokens this long before
	// expiry, absorbing request latency and clock drift.
	DefaultRefreshMargin = 5 * time.Minute

	// assertionLifetime is the validity window of the signed JWT assertion,
	// measured from its backdated issued-at claim. GitHub rejects
	// assertions valid for more than ten minutes.
	assertionLifetime = 10 * time.Minute

	// clockSkewAllowance backdates the assertion's issued-at claim so
	// modest clock drift between us and GitHub does not invalidate it.
	clockSkewAllowance = 60 * time.Second

	defaultAPIBaseURL = "https://api.github.com"
)

// AppConfig configures a GitHub App installation token source.
type AppConfig struct {
	// AppID is the GitHub App identifier, used as the JWT issuer.
	AppID string

	// InstallationID identifies the App installation to mint tokens for.
	InstallationID string

	// PrivateKeyB64 is the base64-encoded PEM private key of the App.
	PrivateKeyB64 string

	// RefreshMargin defaults to DefaultRefreshMargin when zero.
	RefreshMargin time.Duration

	// APIBaseURL defaults to the public GitHub API when empty.
	APIBaseURL string

	// HTTPClient defaults to a client with a 30 second timeout when nil.
	HTTPClient *http.Client
}

// AppTokenSource mints GitHub App installation tokens and caches them until
// near expiry. Refreshing is single-flight: when N concurrent callers
// observe an invalid token, exactly one token exchange is performed and the
// other callers wait for its result.
type AppTokenSource struct {
	appID          string
	installationID string
	privateKey     *rsa.PrivateKey
	refreshMargin  time.Duration
	baseURL        string
	client         *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group

	// now is swappable for tests.
	now func() time.Time
}

// NewAppTokenSource creates a refreshing token source. Malformed key
// material is a configuration error reported here, never at first use.
func NewAppTokenSource(cfg AppConfig) (*AppTokenSource, error) {
	if cfg.AppID == "" {
		return nil, errors.NewInvalidArgumentError("github app ID is required", nil)
	}
	if cfg.InstallationID == "" {
		return nil, errors.NewInvalidArgumentError("github app installation ID is required", nil)
	}

	pemBytes, err := base64.StdEncoding.DecodeString(cfg.PrivateKeyB64)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("github app private key is not valid base64", err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("github app private key is not a valid RSA PEM key", err)
	}

	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &AppTokenSource{
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		privateKey:     privateKey,
		refreshMargin:  cfg.RefreshMargin,
		baseURL:        strings.TrimSuffix(cfg.APIBaseURL, "/"),
		client:         cfg.HTTPClient,
		now:            time.Now,
	}, nil
}

// Token returns a valid installation token, refreshing when the cached one
// is absent or within the refresh margin of its expiry.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.cachedToken(); ok {
		return token, nil
	}

	// Single-flight: only one exchange runs; concurrent observers of an
	// invalid token block on the same result.
	result, err, _ := s.group.Do("refresh", func() (any, error) {
		// Re-check under the flight: a caller that lost the race to a
		// just-finished refresh should not trigger another exchange.
		if token, ok := s.cachedToken(); ok {
			return token, nil
		}
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// cachedToken returns the token when it is still outside the refresh margin.
func (s *AppTokenSource) cachedToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token != "" && s.now().Before(s.expiresAt.Add(-s.refreshMargin)) {
		return s.token, true
	}
	return "", false
}

// refresh mints a fresh assertion, exchanges it for an installation token
// and atomically replaces the cached token. A failed exchange leaves the
// previous (expired) token untouched and does not block later attempts.
func (s *AppTokenSource) refresh(ctx context.Context) (string, error) {
	assertion, err := s.signAssertion()
	if err != nil {
		return "", errors.NewAuthExchangeError("failed to sign app assertion", err)
	}

	url := fmt.Sprintf("%s/app/installations/%s/access_tokens", s.baseURL, s.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", errors.NewAuthExchangeError("failed to build token exchange request", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.NewAuthExchangeError("token exchange request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.NewAuthExchangeError("failed to read token exchange response", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return "", errors.NewAuthExchangeError(
			fmt.Sprintf("token exchange returned status %d", resp.StatusCode), nil)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.NewAuthExchangeError("malformed token exchange response", err)
	}
	if payload.Token == "" {
		return "", errors.NewAuthExchangeError("token exchange response contained no token", nil)
	}

	s.mu.Lock()
	s.token = payload.Token
	s.expiresAt = payload.ExpiresAt
	s.mu.Unlock()

	logger.Debugw("github installation token refreshed",
		"installation_id", s.installationID,
		"expires_at", payload.ExpiresAt)

	return payload.Token, nil
}

// signAssertion builds the short-lived JWT the exchange endpoint expects.
// Assertions are regenerated for every exchange attempt, never reused.
func (s *AppTokenSource) signAssertion() (string, error) {
	// The lifetime is measured from the backdated issued-at, so the skew
	// allowance shields both claims: iat stays in GitHub's past even when
	// our clock runs behind, and exp stays under the ten-minute ceiling
	// even when it runs ahead.
	issuedAt := s.now().Add(-clockSkewAllowance)
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(assertionLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}
