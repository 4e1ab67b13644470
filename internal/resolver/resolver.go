package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oshokin/device-update-agent/internal/domain/update"
	"github.com/oshokin/device-update-agent/internal/logger"
)

// maxManifestBytes caps the manifest body. The manifest is a small JSON
// object; anything bigger is a misconfigured or hostile endpoint.
const maxManifestBytes = 64 << 10

var (
	errBadHTTPStatus    = errors.New("unexpected http status")
	errManifestTooLarge = errors.New("manifest body exceeds size limit")
)

// Resolver fetches and parses the remote release manifest.
// It fails closed: any malformed field, non-2xx response or timeout yields
// an error the orchestrator treats the same as "server unreachable".
// Retry logic lives in the orchestrator, never here.
type Resolver struct {
	client *http.Client
}

// New builds a resolver whose single GET is bounded by the given timeout.
func New(timeout time.Duration) *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: timeout},
	}
}

// FetchManifest performs one bounded GET and parses the manifest.
// The returned manifest is always validated; callers never see a
// manifest with a non-positive build number or an empty artifact URL.
func (r *Resolver) FetchManifest(ctx context.Context, manifestURL string) (*update.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}

	response, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
	}

	// Read one byte past the cap to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(response.Body, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}

	if len(data) > maxManifestBytes {
		return nil, errManifestTooLarge
	}

	var manifest update.Manifest
	if err = json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err = manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	logger.DebugKV(ctx, "Fetched manifest",
		"build", manifest.BuildNumber, "artifact_url", manifest.ArtifactURL)

	return &manifest, nil
}
