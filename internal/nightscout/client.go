package nightscout

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// HTTPDoer defines the http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Uploader posts entries, treatments and device status to a Nightscout
// instance. Authentication uses the api-secret header carrying the SHA-1 hex
// of the configured secret, as the Nightscout v1 API expects.
type Uploader struct {
	baseURL      string
	hashedSecret string
	client       HTTPDoer
	logger       *zap.Logger

	mu        sync.Mutex
	reachable bool
}

// NewUploader builds an uploader for the given Nightscout URL and secret.
func NewUploader(baseURL, secret string, client HTTPDoer, logger *zap.Logger) *Uploader {
	sum := sha1.Sum([]byte(secret))
	return &Uploader{
		baseURL:      strings.TrimRight(strings.ToLower(baseURL), "/"),
		hashedSecret: hex.EncodeToString(sum[:]),
		client:       client,
		logger:       logger,
	}
}

// Reachable probes the instance once and caches success.
func (u *Uploader) Reachable(ctx context.Context) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.reachable {
		return true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/api/v1/devicestatus.json", nil)
	if err != nil {
		return false
	}
	u.setHeaders(req)

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Warn("nightscout unreachable", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		u.logger.Warn("nightscout probe rejected", zap.Int("status", resp.StatusCode))
		return false
	}
	u.reachable = true
	return true
}

// UploadEntry posts a single glucose entry.
func (u *Uploader) UploadEntry(ctx context.Context, entry Entry) error {
	return u.post(ctx, "entries", entry)
}

// UploadTreatment posts a single treatment.
func (u *Uploader) UploadTreatment(ctx context.Context, treatment Treatment) error {
	return u.post(ctx, "treatments", treatment)
}

// UploadDeviceStatus posts the current device status.
func (u *Uploader) UploadDeviceStatus(ctx context.Context, status DeviceStatus) error {
	return u.post(ctx, "devicestatus", status)
}

func (u *Uploader) post(ctx context.Context, collection string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/v1/"+collection, bytes.NewReader(body))
	if err != nil {
		return err
	}
	u.setHeaders(req)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("nightscout: post %s: %w", collection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("nightscout: post %s returned %d", collection, resp.StatusCode)
	}
	return nil
}

func (u *Uploader) setHeaders(req *http.Request) {
	req.Header.Set("api-secret", u.hashedSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", EnteredBy)
}
