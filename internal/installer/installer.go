package installer

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/mitchellh/go-ps"

	"github.com/oshokin/device-update-agent/internal/config"
	"github.com/oshokin/device-update-agent/internal/logger"

	// Ensure SHA256 is available for go-update checksum verification.
	_ "crypto/sha256"
)

const (
	// targetFileMode is applied to the replaced application binary.
	targetFileMode os.FileMode = 0o755

	// probeFilename is created and removed to test write access on first install.
	probeFilename = ".update-agent-probe"
)

var errNoTargetConfigured = errors.New("no privileged install target configured")

// Starter launches a detached command. Replaceable for tests.
type Starter func(ctx context.Context, name string, args ...string) error

// Dispatcher hands a verified artifact to the platform installer. The
// privileged strategy applies the artifact in place, non-interactively;
// when that capability is absent the interactive strategy dispatches the
// artifact to the platform opener, which surfaces a confirmation UI.
//
// Install reports success once the request is dispatched, not when the
// install completes. Completion is asynchronous; the caller keeps the
// artifact around for Grace() before deleting it.
type Dispatcher struct {
	targetPath       string
	openerCommand    string
	privileged       bool
	privilegedGrace  time.Duration
	interactiveGrace time.Duration
	start            Starter
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithStarter replaces the command starter, primarily for tests.
func WithStarter(start Starter) Option {
	return func(d *Dispatcher) {
		d.start = start
	}
}

// NewDispatcher probes install capability once, up front. Lacking write
// access to the target is an expected condition, not an error: the
// dispatcher silently settles on the interactive strategy.
func NewDispatcher(cfg *config.Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		targetPath:       cfg.TargetPath,
		openerCommand:    cfg.OpenerCommand,
		privilegedGrace:  cfg.PrivilegedGrace,
		interactiveGrace: cfg.InteractiveGrace,
		start:            startDetached,
	}

	for _, opt := range opts {
		opt(d)
	}

	d.privileged = d.targetPath != "" && canWriteTarget(d.targetPath)

	return d
}

// Privileged reports which strategy this dispatcher settled on.
func (d *Dispatcher) Privileged() bool {
	return d.privileged
}

// Grace returns how long the artifact must survive after dispatch: short
// for silent installs, long for interactive ones since a human must act.
func (d *Dispatcher) Grace() time.Duration {
	if d.privileged {
		return d.privilegedGrace
	}

	return d.interactiveGrace
}

// Install dispatches the verified artifact through the selected strategy.
// The optional checksum is re-verified by the privileged apply. A false
// return is recoverable; the caller purges the artifact and retries.
func (d *Dispatcher) Install(ctx context.Context, artifactPath string, checksum []byte) bool {
	if d.privileged {
		if err := d.installPrivileged(ctx, artifactPath, checksum); err != nil {
			logger.ErrorKV(ctx, "Privileged install failed", "error", err)
			return false
		}

		logger.InfoKV(ctx, "Privileged install dispatched", "target", d.targetPath)

		return true
	}

	if err := d.installInteractive(ctx, artifactPath); err != nil {
		logger.ErrorKV(ctx, "Interactive install dispatch failed", "error", err)
		return false
	}

	logger.InfoKV(ctx, "Interactive install dispatched",
		"opener", d.openerCommand, "artifact", artifactPath)

	return true
}

// installPrivileged stops running instances of the managed application and
// atomically replaces its binary with the artifact.
func (d *Dispatcher) installPrivileged(ctx context.Context, artifactPath string, checksum []byte) error {
	if d.targetPath == "" {
		return errNoTargetConfigured
	}

	if err := terminateProcessByName(filepath.Base(d.targetPath)); err != nil {
		return fmt.Errorf("terminate running application: %w", err)
	}

	artifact, err := os.Open(filepath.Clean(artifactPath))
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}

	defer func() {
		_ = artifact.Close()
	}()

	logger.Debug(ctx, "Applying artifact to install target")

	options := goupdate.Options{
		TargetPath: d.targetPath,
		TargetMode: targetFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(artifact, options); err != nil {
		return fmt.Errorf("apply artifact: %w", err)
	}

	oldFileName := d.targetPath + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// installInteractive hands the artifact to the platform opener, which
// surfaces the operator confirmation dialog.
func (d *Dispatcher) installInteractive(ctx context.Context, artifactPath string) error {
	return d.start(ctx, d.openerCommand, artifactPath)
}

// startDetached launches a command without waiting for it to finish.
func startDetached(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Start()
}

// canWriteTarget probes write access to the target binary, or to its
// directory when the application was never installed.
func canWriteTarget(path string) bool {
	file, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY, 0)
	if err == nil {
		_ = file.Close()
		return true
	}

	if !errors.Is(err, os.ErrNotExist) {
		return false
	}

	// First install: the binary does not exist yet, test the directory.
	probePath := filepath.Join(filepath.Dir(path), probeFilename)

	probe, err := os.OpenFile(probePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return false
	}

	_ = probe.Close()
	_ = os.Remove(probePath)

	return true
}

// terminateProcessByName kills processes with the provided executable name.
func terminateProcessByName(processName string) error {
	if processName == "" || processName == "." {
		return nil
	}

	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != processName {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}
