package carelink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultDiscoveryURL is the Carelink Connect discovery document for the
// care-partner app.
const DefaultDiscoveryURL = "https://clcloud.minimed.eu/connect/carepartner/v6/discover/android/3.1"

type discoveryDocument struct {
	CP []struct {
		Region           string `json:"region"`
		SSOConfiguration string `json:"SSOConfiguration"`
	} `json:"CP"`
}

type ssoConfiguration struct {
	Server struct {
		Hostname string `json:"hostname"`
		Port     int    `json:"port"`
		Prefix   string `json:"prefix"`
	} `json:"server"`
	OAuth struct {
		SystemEndpoints struct {
			TokenEndpointPath string `json:"token_endpoint_path"`
		} `json:"system_endpoints"`
	} `json:"oauth"`
}

// Endpoints is the resolved regional endpoint configuration.
type Endpoints struct {
	APIBaseURL string
	TokenURL   string
}

// ResolveEndpoints fetches the discovery document and derives the token
// endpoint for the given country. US accounts live in the US region,
// everyone else in the EU one.
func ResolveEndpoints(ctx context.Context, client HTTPDoer, discoveryURL, country string) (Endpoints, error) {
	region := "eu"
	if strings.EqualFold(country, "us") {
		region = "us"
	}

	var doc discoveryDocument
	if err := getJSON(ctx, client, discoveryURL, &doc); err != nil {
		return Endpoints{}, fmt.Errorf("carelink: discovery: %w", err)
	}

	ssoURL := ""
	for _, cp := range doc.CP {
		if strings.EqualFold(cp.Region, region) {
			ssoURL = cp.SSOConfiguration
			break
		}
	}
	if ssoURL == "" {
		return Endpoints{}, fmt.Errorf("carelink: no SSO configuration for region %s", region)
	}

	var sso ssoConfiguration
	if err := getJSON(ctx, client, ssoURL, &sso); err != nil {
		return Endpoints{}, fmt.Errorf("carelink: sso configuration: %w", err)
	}

	base := fmt.Sprintf("https://%s:%d/%s", sso.Server.Hostname, sso.Server.Port, strings.Trim(sso.Server.Prefix, "/"))
	tokenPath := sso.OAuth.SystemEndpoints.TokenEndpointPath
	if !strings.HasPrefix(tokenPath, "/") {
		tokenPath = "/" + tokenPath
	}

	return Endpoints{
		APIBaseURL: base,
		TokenURL:   base + tokenPath,
	}, nil
}

func getJSON(ctx context.Context, client HTTPDoer, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, target)
}
