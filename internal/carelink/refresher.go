package carelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrReauthRequired means the refresh token was rejected and a new
// logindata.json has to be produced with the external login script. This is
// also what an MFA-enabled account runs into.
var ErrReauthRequired = errors.New("carelink: refresh token rejected, re-run the login script")

const (
	defaultRefreshMargin = 10 * time.Minute
	refreshCheckInterval = time.Minute
)

// Refresher keeps the credential store valid by renewing the access token
// before it expires. It doubles as the token source for the API client.
type Refresher struct {
	store        *CredentialStore
	client       HTTPDoer
	discoveryURL string
	country      string
	margin       time.Duration
	logger       *zap.Logger

	mu        sync.Mutex
	endpoints *Endpoints
}

// NewRefresher builds a refresher around the credential store.
func NewRefresher(store *CredentialStore, client HTTPDoer, country string, margin time.Duration, logger *zap.Logger) *Refresher {
	if margin <= 0 {
		margin = defaultRefreshMargin
	}
	return &Refresher{
		store:        store,
		client:       client,
		discoveryURL: DefaultDiscoveryURL,
		country:      country,
		margin:       margin,
		logger:       logger,
	}
}

// SetDiscoveryURL overrides the discovery document location (tests).
func (r *Refresher) SetDiscoveryURL(url string) {
	r.discoveryURL = url
}

// SetEndpoints pins the resolved endpoints, bypassing discovery (tests).
func (r *Refresher) SetEndpoints(endpoints Endpoints) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints = &endpoints
}

// Token returns a valid access token, refreshing first when the current one
// is within the expiry margin.
func (r *Refresher) Token(ctx context.Context) (string, error) {
	creds, err := r.store.Current()
	if err != nil {
		return "", err
	}

	exp, err := creds.ExpiresAt()
	if err != nil || time.Until(exp) < r.margin {
		if refreshErr := r.refresh(ctx); refreshErr != nil {
			// Inside the margin the old token may still work, so hand it
			// out and let the caller hit a 401 if it does not.
			if err == nil && time.Until(exp) > 0 {
				r.logger.Warn("token refresh failed, using current token", zap.Error(refreshErr))
				return creds.AccessToken, nil
			}
			return "", refreshErr
		}
		creds, err = r.store.Current()
		if err != nil {
			return "", err
		}
	}

	return creds.AccessToken, nil
}

// ForceRefresh renews the token unconditionally. Called by the API client
// after a 401/403.
func (r *Refresher) ForceRefresh(ctx context.Context) error {
	return r.refresh(ctx)
}

// Run periodically checks the expiry and refreshes ahead of it. Blocks until
// the context is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			creds, err := r.store.Current()
			if err != nil {
				r.logger.Warn("credentials unavailable", zap.Error(err))
				continue
			}
			exp, err := creds.ExpiresAt()
			if err == nil && time.Until(exp) >= r.margin {
				continue
			}
			if err := r.refresh(ctx); err != nil {
				if errors.Is(err, ErrReauthRequired) {
					r.logger.Error("session cannot be refreshed", zap.Error(err))
				} else {
					r.logger.Warn("token refresh failed", zap.Error(err))
				}
			}
		}
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type tokenError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r *Refresher) refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	creds, err := r.store.Current()
	if err != nil {
		return err
	}

	endpoints, err := r.resolveEndpoints(ctx)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)
	form.Set("client_id", creds.ClientID)
	form.Set("client_secret", creds.ClientSecret)
	if creds.Scope != "" {
		form.Set("scope", creds.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("mag-identifier", creds.MagIdentifier)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("carelink: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var terr tokenError
		if json.Unmarshal(body, &terr) == nil && terr.Error == "invalid_grant" {
			return ErrReauthRequired
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return ErrReauthRequired
		}
		return fmt.Errorf("carelink: token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("carelink: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return errors.New("carelink: token response has no access token")
	}

	creds.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		creds.RefreshToken = tr.RefreshToken
	}
	if tr.Scope != "" {
		creds.Scope = tr.Scope
	}

	if err := r.store.Update(creds); err != nil {
		return err
	}

	exp, _ := creds.ExpiresAt()
	r.logger.Info("carelink session refreshed", zap.Time("expires_at", exp))
	return nil
}

func (r *Refresher) resolveEndpoints(ctx context.Context) (Endpoints, error) {
	if r.endpoints != nil {
		return *r.endpoints, nil
	}
	endpoints, err := ResolveEndpoints(ctx, r.client, r.discoveryURL, r.country)
	if err != nil {
		return Endpoints{}, err
	}
	r.endpoints = &endpoints
	return endpoints, nil
}
