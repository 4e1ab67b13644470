package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields, mode validation and defaulting.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing manifest URL.
	cfg := new(Config)

	err := Validate(cfg)
	require.Error(t, err)

	// Bad manifest URL.
	cfg = &Config{
		ManifestURL: "not a url",
	}

	err = Validate(cfg)
	require.Error(t, err)

	// Unknown connectivity mode.
	cfg = &Config{
		ManifestURL:      "https://updates.local/manifest.json",
		ConnectivityMode: "wifi-sometimes",
	}

	err = Validate(cfg)
	require.Error(t, err)

	// Minimal valid config gets defaults.
	cfg = &Config{
		ManifestURL: "https://updates.local/manifest.json",
	}

	require.NoError(t, Validate(cfg))
	require.Equal(t, ModeAny, cfg.ConnectivityMode)
	require.Equal(t, DefaultPollInterval, cfg.PollInterval)
	require.Equal(t, DefaultRetryBackoff, cfg.RetryBackoff)
	require.Equal(t, DefaultHTTPTimeout, cfg.HTTPTimeout)
	require.Equal(t, DefaultPrivilegedGrace, cfg.PrivilegedGrace)
	require.Equal(t, DefaultInteractiveGrace, cfg.InteractiveGrace)
	require.Equal(t, DefaultOpenerCommand, cfg.OpenerCommand)
	require.NotEmpty(t, cfg.ArtifactPath)
	require.NotEmpty(t, cfg.RestrictedPrefixes)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		PackageID:          "com.example.kiosk",
		ManifestURL:        "https://updates.local/manifest.json",
		ConnectivityMode:   ModeRestrictedOnly,
		RestrictedPrefixes: []string{"eth"},
		ArtifactPath:       filepath.Join(dir, "artifact.pkg"),
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PackageID, loaded.PackageID)
	require.Equal(t, cfg.ManifestURL, loaded.ManifestURL)
	require.Equal(t, cfg.ConnectivityMode, loaded.ConnectivityMode)
	require.Equal(t, cfg.RestrictedPrefixes, loaded.RestrictedPrefixes)
	require.Equal(t, cfg.ArtifactPath, loaded.ArtifactPath)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoadMissingFile verifies that a missing settings file is an error.
func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
