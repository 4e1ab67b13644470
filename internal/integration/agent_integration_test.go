package integration

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/device-update-agent/internal/config"
	"github.com/oshokin/device-update-agent/internal/connectivity"
	"github.com/oshokin/device-update-agent/internal/domain/update"
	"github.com/oshokin/device-update-agent/internal/service/agent"
)

// mockRegistry reports a fixed installed build and records the value a real
// registry would report once the platform finishes the install.
type mockRegistry struct {
	mu    sync.Mutex
	build int64
}

func (r *mockRegistry) InstalledBuild(context.Context) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.build <= 0 {
		return 0, false, nil
	}

	return r.build, true, nil
}

func (r *mockRegistry) set(build int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.build = build
}

// alwaysEligible is a connectivity monitor for tests with network present.
type alwaysEligible struct{}

func (alwaysEligible) IsEligible() bool {
	return true
}

func (alwaysEligible) Classify() connectivity.Class {
	return connectivity.ClassRestricted
}

// updateServer serves a manifest and the artifact it points at, counting
// requests so tests can assert how often the engine hit the network.
type updateServer struct {
	ts            *httptest.Server
	payload       []byte
	buildNumber   int64
	manifestCalls atomic.Int32
	artifactCalls atomic.Int32
}

func newUpdateServer(t *testing.T, buildNumber int64, payload []byte) *updateServer {
	t.Helper()

	s := &updateServer{payload: payload, buildNumber: buildNumber}

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		s.manifestCalls.Add(1)

		sum := sha256.Sum256(s.payload)
		_, _ = fmt.Fprintf(w, `{"version_code": %d, "apk_url": %q, "sha256": %q}`,
			s.buildNumber, s.ts.URL+"/a.apk", hex.EncodeToString(sum[:]))
	})
	mux.HandleFunc("/a.apk", func(w http.ResponseWriter, _ *http.Request) {
		s.artifactCalls.Add(1)
		_, _ = w.Write(s.payload)
	})

	s.ts = httptest.NewServer(mux)
	t.Cleanup(s.ts.Close)

	return s
}

// testAgentConfig wires the engine at a temp directory with fast intervals.
func testAgentConfig(t *testing.T, manifestURL, targetPath string) *config.Config {
	t.Helper()

	cfg := &config.Config{
		PackageID:        "com.example.kiosk",
		ManifestURL:      manifestURL,
		ConnectivityMode: config.ModeAny,
		PollInterval:     10 * time.Millisecond,
		RetryBackoff:     10 * time.Millisecond,
		HTTPTimeout:      2 * time.Second,
		ArtifactPath:     filepath.Join(t.TempDir(), "artifact.pkg"),
		TargetPath:       targetPath,
		PrivilegedGrace:  10 * time.Millisecond,
		InteractiveGrace: 10 * time.Millisecond,
	}
	require.NoError(t, config.Validate(cfg))

	return cfg
}

// TestAgent_FullUpdateRun reproduces the reference scenario: installed build 3,
// manifest advertises build 5 with a digest over a 100-byte payload. The
// engine must end in Cleanup with the artifact gone, the target binary
// replaced, and the (mocked) registry reporting build 5 afterwards.
func TestAgent_FullUpdateRun(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 100)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	server := newUpdateServer(t, 5, payload)

	targetPath := filepath.Join(t.TempDir(), "updtest-kiosk-app")
	require.NoError(t, os.WriteFile(targetPath, []byte("build three"), 0o755))

	cfg := testAgentConfig(t, server.ts.URL+"/manifest.json", targetPath)
	reg := &mockRegistry{build: 3}

	engine := agent.New(cfg,
		agent.WithConnectivity(alwaysEligible{}),
		agent.WithRegistry(reg),
	)

	events, unsubscribe := engine.Subscribe(agent.DefaultEventBuffer)

	require.NoError(t, engine.Activate(context.Background()))
	unsubscribe()

	// Privileged strategy replaced the binary in place.
	installed, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	require.Equal(t, payload, installed)

	// The artifact was removed after the grace delay.
	_, err = os.Stat(cfg.ArtifactPath)
	require.ErrorIs(t, err, os.ErrNotExist)

	// One run's worth of network calls.
	require.EqualValues(t, 1, server.manifestCalls.Load())
	require.EqualValues(t, 1, server.artifactCalls.Load())

	// The platform registry would now report the new build.
	reg.set(5)

	build, installedNow, err := reg.InstalledBuild(context.Background())
	require.NoError(t, err)
	require.True(t, installedNow)
	require.EqualValues(t, 5, build)

	// The run passed through every phase and progress stayed sane.
	seen := make(map[update.Phase]bool)

	for event := range events {
		seen[event.Phase] = true

		if event.Phase == update.PhaseDownloading && event.Percent >= 0 {
			require.LessOrEqual(t, event.Percent, 100)
			require.LessOrEqual(t, event.BytesDownloaded, event.TotalBytes)
		}
	}

	for _, phase := range []update.Phase{
		update.PhaseWaitingForConnectivity,
		update.PhaseCheckingVersion,
		update.PhaseDownloading,
		update.PhaseInstalling,
		update.PhaseCleanup,
	} {
		require.True(t, seen[phase], "missing phase %s", phase)
	}
}

// TestAgent_UpToDateRun verifies that a current installation never touches
// the artifact endpoint.
func TestAgent_UpToDateRun(t *testing.T) {
	t.Parallel()

	server := newUpdateServer(t, 5, []byte("irrelevant"))

	cfg := testAgentConfig(t, server.ts.URL+"/manifest.json", "")

	engine := agent.New(cfg,
		agent.WithConnectivity(alwaysEligible{}),
		agent.WithRegistry(&mockRegistry{build: 5}),
	)

	require.NoError(t, engine.Activate(context.Background()))

	require.EqualValues(t, 1, server.manifestCalls.Load())
	require.Zero(t, server.artifactCalls.Load())
}

// TestAgent_CorruptArtifactRetries serves a corrupted artifact first, then
// the true bytes: the engine must purge the corrupt download and succeed on
// the retry.
func TestAgent_CorruptArtifactRetries(t *testing.T) {
	t.Parallel()

	payload := []byte("the genuine one hundred percent verified release")

	// First artifact response is corrupted by one byte.
	corrupt := append([]byte{}, payload...)
	corrupt[0] ^= 0x01

	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	// Pin the manifest digest to the genuine payload.
	mux := http.NewServeMux()

	var artifactCalls atomic.Int32

	var ts *httptest.Server

	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"version_code": 5, "apk_url": %q, "sha256": %q}`,
			ts.URL+"/a.apk", digest)
	})
	mux.HandleFunc("/a.apk", func(w http.ResponseWriter, _ *http.Request) {
		if artifactCalls.Add(1) == 1 {
			_, _ = w.Write(corrupt)
			return
		}

		_, _ = w.Write(payload)
	})

	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	targetPath := filepath.Join(t.TempDir(), "updtest-kiosk-app")
	require.NoError(t, os.WriteFile(targetPath, []byte("old"), 0o755))

	cfg := testAgentConfig(t, ts.URL+"/manifest.json", targetPath)

	engine := agent.New(cfg,
		agent.WithConnectivity(alwaysEligible{}),
		agent.WithRegistry(&mockRegistry{build: 3}),
	)

	require.NoError(t, engine.Activate(context.Background()))

	require.EqualValues(t, 2, artifactCalls.Load())

	installed, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	require.Equal(t, payload, installed)

	_, err = os.Stat(cfg.ArtifactPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}
