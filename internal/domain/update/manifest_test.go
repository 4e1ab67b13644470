package update

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestManifestValidate covers the invariants a usable manifest must hold.
func TestManifestValidate(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("payload"))
	digest := hex.EncodeToString(sum[:])

	valid := &Manifest{BuildNumber: 5, ArtifactURL: "https://x/a.apk", Checksum: digest}
	require.NoError(t, valid.Validate())

	// Checksum is optional.
	require.NoError(t, (&Manifest{BuildNumber: 1, ArtifactURL: "https://x/a.apk"}).Validate())

	cases := map[string]*Manifest{
		"zero build":       {BuildNumber: 0, ArtifactURL: "https://x/a.apk"},
		"negative build":   {BuildNumber: -1, ArtifactURL: "https://x/a.apk"},
		"empty url":        {BuildNumber: 5},
		"blank url":        {BuildNumber: 5, ArtifactURL: "   "},
		"invalid url":      {BuildNumber: 5, ArtifactURL: "not a uri"},
		"short checksum":   {BuildNumber: 5, ArtifactURL: "https://x/a.apk", Checksum: "abcd"},
		"non-hex checksum": {BuildNumber: 5, ArtifactURL: "https://x/a.apk", Checksum: strings.Repeat("z", 64)},
	}

	for name, manifest := range cases {
		manifest := manifest

		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.Error(t, manifest.Validate())
		})
	}
}

// TestManifestJSONShape checks the wire field names of the remote manifest.
func TestManifestJSONShape(t *testing.T) {
	t.Parallel()

	var manifest Manifest

	raw := `{"version_code": 5, "apk_url": "https://x/a.apk", "sha256": ""}`
	require.NoError(t, json.Unmarshal([]byte(raw), &manifest))
	require.EqualValues(t, 5, manifest.BuildNumber)
	require.Equal(t, "https://x/a.apk", manifest.ArtifactURL)
}

// TestChecksumBytes decodes mixed-case digests and handles the absent case.
func TestChecksumBytes(t *testing.T) {
	t.Parallel()

	sum := sha256.Sum256([]byte("payload"))
	digest := hex.EncodeToString(sum[:])

	m := &Manifest{BuildNumber: 1, ArtifactURL: "https://x/a", Checksum: strings.ToUpper(digest)}
	require.Equal(t, sum[:], m.ChecksumBytes())

	m.Checksum = ""
	require.Nil(t, m.ChecksumBytes())
}

// TestDownloadOutcomeVariants checks the success and failure constructors.
func TestDownloadOutcomeVariants(t *testing.T) {
	t.Parallel()

	success := DownloadSuccess("/tmp/a.pkg", 100)
	require.True(t, success.OK())
	require.EqualValues(t, 100, success.ByteLength)

	failure := DownloadFailure(ReasonChecksumMismatch, nil)
	require.False(t, failure.OK())
	require.Equal(t, "checksum_mismatch", failure.Reason.String())
}

// TestPhaseTerminal marks exactly UpToDate and Cleanup as terminal.
func TestPhaseTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, PhaseUpToDate.Terminal())
	require.True(t, PhaseCleanup.Terminal())
	require.False(t, PhaseWaitingForConnectivity.Terminal())
	require.False(t, PhaseDownloading.Terminal())
	require.False(t, PhaseRetryScheduled.Terminal())
}
