package walletd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Manifest is the dapp's self-description referenced by manifestUrl.
type Manifest struct {
	URL     string `json:"url"`
	Name    string `json:"name"`
	IconURL string `json:"iconUrl,omitempty"`
}

// Manifest failure sentinels mapped to protocol error codes by the router.
var (
	ErrManifestNotFound = errors.New("manifest not found")
	ErrManifestContent  = errors.New("manifest content error")
)

// ManifestLoader fetches and parses a dapp manifest.
type ManifestLoader func(ctx context.Context, manifestURL string) (Manifest, error)

// HTTPManifestLoader loads manifests over HTTP using client (or
// http.DefaultClient when nil).
func HTTPManifestLoader(client *http.Client) ManifestLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, manifestURL string) (Manifest, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
		if err != nil {
			return Manifest{}, ErrManifestNotFound
		}
		resp, err := client.Do(req)
		if err != nil {
			return Manifest{}, ErrManifestNotFound
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode >= 400 {
			return Manifest{}, fmt.Errorf("%w: status %s", ErrManifestNotFound, resp.Status)
		}
		var m Manifest
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return Manifest{}, fmt.Errorf("%w: %v", ErrManifestContent, err)
		}
		if m.URL == "" || m.Name == "" {
			return Manifest{}, fmt.Errorf("%w: missing url or name", ErrManifestContent)
		}
		return m, nil
	}
}

// validateManifestURL performs the syntactic check done before any fetch.
func validateManifestURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrManifestNotFound
	}
	return nil
}
