package update

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const sha256HexLength = 64

var (
	errBuildNumberInvalid = errors.New("manifest build number must be positive")
	errArtifactURLMissing = errors.New("manifest artifact URL is empty")
	errArtifactURLInvalid = errors.New("manifest artifact URL is not a valid URI")
	errChecksumInvalid    = errors.New("manifest checksum is not a valid SHA-256 hex digest")
)

// Manifest describes the latest build published on the update server.
type Manifest struct {
	// BuildNumber is the monotonically increasing build counter of the release.
	BuildNumber int64 `json:"version_code"`
	// ArtifactURL points at the installable artifact for this build.
	ArtifactURL string `json:"apk_url"`
	// Checksum is an optional lowercase or uppercase hex SHA-256 digest
	// of the artifact. Empty means the server publishes no digest.
	Checksum string `json:"sha256"`
}

// Validate reports whether the manifest is usable.
// A manifest that fails validation is treated as absent by callers,
// never as "no update available".
func (m *Manifest) Validate() error {
	if m.BuildNumber <= 0 {
		return fmt.Errorf("%w: %d", errBuildNumberInvalid, m.BuildNumber)
	}

	if strings.TrimSpace(m.ArtifactURL) == "" {
		return errArtifactURLMissing
	}

	if _, err := url.ParseRequestURI(m.ArtifactURL); err != nil {
		return fmt.Errorf("%w: %v", errArtifactURLInvalid, err)
	}

	if m.Checksum == "" {
		return nil
	}

	if len(m.Checksum) != sha256HexLength {
		return fmt.Errorf("%w: length %d", errChecksumInvalid, len(m.Checksum))
	}

	if _, err := hex.DecodeString(m.Checksum); err != nil {
		return fmt.Errorf("%w: %v", errChecksumInvalid, err)
	}

	return nil
}

// ChecksumBytes decodes the hex digest, or returns nil when the manifest
// carries no checksum. Call Validate first; this method assumes valid input.
func (m *Manifest) ChecksumBytes() []byte {
	if m.Checksum == "" {
		return nil
	}

	raw, err := hex.DecodeString(strings.ToLower(m.Checksum))
	if err != nil {
		return nil
	}

	return raw
}
