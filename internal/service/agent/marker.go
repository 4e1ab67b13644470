package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/device-update-agent/internal/logger"
)

// MarkerFilename marks that an agent run is in progress to avoid
// parallel execution across processes.
const MarkerFilename = "update-agent-run-marker.bin"

var errAgentAlreadyRunning = errors.New("an update run is already in progress")

// runMarker guards against two agent processes updating the same device.
// In-process duplicate activations are handled separately by the engine.
type runMarker struct {
	path string
}

// newRunMarker places the marker next to the artifact, the one directory
// every run touches.
func newRunMarker(dir string) *runMarker {
	return &runMarker{path: filepath.Join(dir, MarkerFilename)}
}

// acquire creates the marker, refusing when another live run holds it.
func (m *runMarker) acquire(ctx context.Context) error {
	if m.heldByLiveRun(ctx) {
		return errAgentAlreadyRunning
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return err
	}

	marker, err := os.Create(m.path)
	if err != nil {
		return err
	}

	return marker.Close()
}

// release removes the marker. Safe to call when the marker is gone.
func (m *runMarker) release() {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(context.Background(), "Could not remove run marker",
			"path", m.path, "error", err)
	}
}

// heldByLiveRun checks marker presence and attempts recovery when it looks
// stale: a crash or reboot leaves the marker behind, and the next boot must
// not be locked out forever.
func (m *runMarker) heldByLiveRun(ctx context.Context) bool {
	fileInfo, err := os.Stat(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	if err != nil {
		logger.WarnKV(ctx, "Could not read run marker", "path", m.path, "error", err)
		return false
	}

	if agentProcessAlive() {
		return true
	}

	logger.InfoKV(ctx, "Reclaiming run marker left by a dead process",
		"age", time.Since(fileInfo.ModTime()).String())

	if err = os.Remove(m.path); err != nil {
		return true
	}

	return false
}

// agentProcessAlive reports whether another process with this executable
// name is running.
func agentProcessAlive() bool {
	executable := filepath.Base(os.Args[0])

	processList, err := ps.Processes()
	if err != nil {
		// Cannot tell; err on the safe side.
		return true
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == executable {
			return true
		}
	}

	return false
}
