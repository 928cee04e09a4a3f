package carelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestResolveEndpoints(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/discover", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"CP":[
			{"region":"US","SSOConfiguration":"%s/sso-us"},
			{"region":"EU","SSOConfiguration":"%s/sso-eu"}
		]}`, server.URL, server.URL)
	})
	mux.HandleFunc("/sso-eu", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"server":{"hostname":"mdtlogin.medtronic.com","port":443,"prefix":"mmcl"},
			"oauth":{"system_endpoints":{"token_endpoint_path":"/auth/oauth/v2/token"}}
		}`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	endpoints, err := ResolveEndpoints(context.Background(), server.Client(), server.URL+"/discover", "de")
	if err != nil {
		t.Fatalf("resolve endpoints: %v", err)
	}
	if endpoints.APIBaseURL != "https://mdtlogin.medtronic.com:443/mmcl" {
		t.Fatalf("unexpected base url %q", endpoints.APIBaseURL)
	}
	if endpoints.TokenURL != "https://mdtlogin.medtronic.com:443/mmcl/auth/oauth/v2/token" {
		t.Fatalf("unexpected token url %q", endpoints.TokenURL)
	}
}

func TestResolveEndpointsUnknownRegion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"CP":[{"region":"EU","SSOConfiguration":"https://example.invalid"}]}`)
	}))
	defer server.Close()

	if _, err := ResolveEndpoints(context.Background(), server.Client(), server.URL, "us"); err == nil {
		t.Fatal("expected error for missing region")
	}
}

func newTestRefresher(t *testing.T, tokenHandler http.HandlerFunc, expiry time.Time) (*Refresher, *CredentialStore, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(tokenHandler)
	t.Cleanup(server.Close)

	path := filepath.Join(t.TempDir(), "logindata.json")
	writeCredentialFile(t, path, testCredentials(t, expiry))
	store := NewCredentialStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("load credentials: %v", err)
	}

	refresher := NewRefresher(store, server.Client(), "de", 10*time.Minute, zap.NewNop())
	refresher.SetEndpoints(Endpoints{APIBaseURL: server.URL, TokenURL: server.URL + "/token"})
	return refresher, store, server
}

func TestRefresherRotatesTokens(t *testing.T) {
	newExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
	var newAccess string

	refresher, store, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("mag-identifier") != "mag-1" {
			t.Errorf("missing mag-identifier header")
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Errorf("unexpected grant type %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			t.Errorf("unexpected refresh token %q", r.PostForm.Get("refresh_token"))
		}
		json.NewEncoder(w).Encode(map[string]string{
			"access_token":  newAccess,
			"refresh_token": "refresh-2",
		})
	}, time.Now().Add(time.Hour))

	newAccess = signedToken(t, newExpiry)

	if err := refresher.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("force refresh: %v", err)
	}

	creds, err := store.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if creds.RefreshToken != "refresh-2" {
		t.Fatalf("expected rotated refresh token, got %q", creds.RefreshToken)
	}
	exp, err := creds.ExpiresAt()
	if err != nil {
		t.Fatalf("expires at: %v", err)
	}
	if !exp.Equal(newExpiry) {
		t.Fatalf("expected expiry %s, got %s", newExpiry, exp)
	}
}

func TestRefresherInvalidGrant(t *testing.T) {
	refresher, _, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"token revoked"}`)
	}, time.Now().Add(time.Hour))

	err := refresher.ForceRefresh(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestRefresherTokenRefreshesNearExpiry(t *testing.T) {
	newExpiry := time.Now().Add(time.Hour).Truncate(time.Second)
	var newAccess string
	calls := 0

	// Current token expires within the margin, so Token must refresh first.
	refresher, _, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]string{"access_token": newAccess})
	}, time.Now().Add(time.Minute))

	newAccess = signedToken(t, newExpiry)

	token, err := refresher.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token != newAccess {
		t.Fatal("expected the refreshed access token")
	}
	if calls != 1 {
		t.Fatalf("expected 1 token call, got %d", calls)
	}
}

func TestRefresherTokenKeepsValidToken(t *testing.T) {
	refresher, store, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint must not be called")
	}, time.Now().Add(2*time.Hour))

	token, err := refresher.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	creds, _ := store.Current()
	if token != creds.AccessToken {
		t.Fatal("expected the current access token")
	}
}

func TestRefresherFallsBackToCurrentTokenOnFailure(t *testing.T) {
	// Refresh fails but the old token is still (barely) valid.
	refresher, store, _ := newTestRefresher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, time.Now().Add(5*time.Minute))

	token, err := refresher.Token(context.Background())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	creds, _ := store.Current()
	if token != creds.AccessToken {
		t.Fatal("expected the current access token as fallback")
	}
}
