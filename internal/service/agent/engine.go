package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oshokin/device-update-agent/internal/config"
	"github.com/oshokin/device-update-agent/internal/connectivity"
	"github.com/oshokin/device-update-agent/internal/domain/update"
	"github.com/oshokin/device-update-agent/internal/fetcher"
	"github.com/oshokin/device-update-agent/internal/installer"
	"github.com/oshokin/device-update-agent/internal/logger"
	"github.com/oshokin/device-update-agent/internal/registry"
	"github.com/oshokin/device-update-agent/internal/resolver"
)

var errInstallDispatchRefused = errors.New("no install strategy accepted the artifact")

// Connectivity gates the start of every pass. See internal/connectivity.
type Connectivity interface {
	IsEligible() bool
	Classify() connectivity.Class
}

// ManifestFetcher discovers the latest available build. See internal/resolver.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, manifestURL string) (*update.Manifest, error)
}

// ArtifactFetcher downloads and verifies the artifact. See internal/fetcher.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, artifactURL, expectedChecksum string, sink update.ProgressFunc) update.DownloadOutcome
	Discard()
	Destination() string
}

// InstallDispatcher applies the verified artifact. See internal/installer.
type InstallDispatcher interface {
	Install(ctx context.Context, artifactPath string, checksum []byte) bool
	Grace() time.Duration
}

// Engine is the update orchestrator: one logical worker driving
// connectivity gating, version discovery, verified download and install
// dispatch, with unbounded fixed-interval retry. Every pass re-derives all
// state from the registry and the remote manifest, so the engine is safe
// to kill and restart at any point.
type Engine struct {
	cfg        *config.Config
	monitor    Connectivity
	resolver   ManifestFetcher
	fetcher    ArtifactFetcher
	dispatcher InstallDispatcher
	registry   registry.Reader
	bus        *StatusBus
	marker     *runMarker
	active     atomic.Bool
}

// EngineOption replaces a collaborator, primarily for tests.
type EngineOption func(*Engine)

// WithConnectivity replaces the connectivity monitor.
func WithConnectivity(monitor Connectivity) EngineOption {
	return func(e *Engine) {
		e.monitor = monitor
	}
}

// WithResolver replaces the manifest resolver.
func WithResolver(manifestFetcher ManifestFetcher) EngineOption {
	return func(e *Engine) {
		e.resolver = manifestFetcher
	}
}

// WithFetcher replaces the artifact fetcher.
func WithFetcher(artifactFetcher ArtifactFetcher) EngineOption {
	return func(e *Engine) {
		e.fetcher = artifactFetcher
	}
}

// WithDispatcher replaces the install dispatcher.
func WithDispatcher(dispatcher InstallDispatcher) EngineOption {
	return func(e *Engine) {
		e.dispatcher = dispatcher
	}
}

// WithRegistry replaces the installed-package registry reader.
func WithRegistry(reader registry.Reader) EngineOption {
	return func(e *Engine) {
		e.registry = reader
	}
}

// New assembles an engine from validated configuration. Collaborators
// default to the real implementations.
func New(cfg *config.Config, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:    cfg,
		bus:    newStatusBus(),
		marker: newRunMarker(filepath.Dir(cfg.ArtifactPath)),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.monitor == nil {
		e.monitor = connectivity.NewMonitor(cfg.ConnectivityMode, cfg.RestrictedPrefixes)
	}

	if e.resolver == nil {
		e.resolver = resolver.New(cfg.HTTPTimeout)
	}

	if e.fetcher == nil {
		e.fetcher = fetcher.New(cfg.ArtifactPath, cfg.HTTPTimeout)
	}

	if e.dispatcher == nil {
		e.dispatcher = installer.NewDispatcher(cfg)
	}

	if e.registry == nil {
		e.registry = registry.NewCommandReader(cfg.InstalledVersionCommand)
	}

	return e
}

// Subscribe registers a best-effort status listener.
func (e *Engine) Subscribe(buffer int) (<-chan update.StatusEvent, func()) {
	return e.bus.Subscribe(buffer)
}

// Activate runs the engine until it reaches a terminal state or the
// context is canceled. An activation while a run is in progress, in this
// process or another, is detected and ignored.
func (e *Engine) Activate(ctx context.Context) error {
	if !e.active.CompareAndSwap(false, true) {
		logger.Info(ctx, "Activation ignored, a run is already in progress")
		return nil
	}

	defer e.active.Store(false)

	if err := e.marker.acquire(ctx); err != nil {
		logger.WarnKV(ctx, "Activation ignored", "reason", err)
		return nil
	}

	defer e.marker.release()

	// A killed download must never be mistaken for a valid artifact.
	e.fetcher.Discard()

	operation := func() error {
		terminal, err := e.runOnce(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(context.Cause(ctx))
		}

		if terminal {
			return nil
		}

		return err
	}

	// Unbounded constant backoff: an unattended device keeps trying until
	// power or network goes away for good.
	wait := backoff.WithContext(backoff.NewConstantBackOff(e.cfg.RetryBackoff), ctx)

	notify := func(err error, delay time.Duration) {
		e.emit(newEvent(update.PhaseRetryScheduled,
			fmt.Sprintf("Retrying in %s", delay)))
		logger.WarnKV(ctx, "Update pass failed, retry scheduled",
			"error", err, "delay", delay.String())
	}

	if err := backoff.RetryNotify(operation, wait, notify); err != nil {
		return fmt.Errorf("update run aborted: %w", err)
	}

	return nil
}

// runOnce executes a single pass of the state machine. It returns
// terminal=true on UpToDate or Cleanup; any other outcome is a recoverable
// failure the retry loop restarts from scratch.
func (e *Engine) runOnce(ctx context.Context) (bool, error) {
	if err := e.awaitConnectivity(ctx); err != nil {
		return false, err
	}

	e.emit(newEvent(update.PhaseCheckingVersion, "Checking for a new build"))

	manifest, err := e.resolver.FetchManifest(ctx, e.cfg.ManifestURL)
	if err != nil {
		return false, &passError{update.ReasonManifestUnavailable, err}
	}

	installedBuild, installed, err := e.registry.InstalledBuild(ctx)
	if err != nil {
		// Unreadable registry looks like a first install; the installer
		// path is idempotent either way.
		logger.WarnKV(ctx, "Registry read failed, assuming not installed", "error", err)

		installed = false
	}

	if installed && installedBuild >= manifest.BuildNumber {
		e.emit(newEvent(update.PhaseUpToDate,
			fmt.Sprintf("Installed build %d is current (remote %d)", installedBuild, manifest.BuildNumber)))
		logger.InfoKV(ctx, "Application is up to date",
			"installed", installedBuild, "remote", manifest.BuildNumber)

		return true, nil
	}

	e.emit(newEvent(update.PhaseDownloading,
		fmt.Sprintf("Downloading build %d", manifest.BuildNumber)))

	outcome := e.fetcher.Fetch(ctx, manifest.ArtifactURL, manifest.Checksum, e.downloadProgress())
	if !outcome.OK() {
		return false, &passError{outcome.Reason, outcome.Err}
	}

	e.emit(newEvent(update.PhaseInstalling,
		fmt.Sprintf("Dispatching install of build %d", manifest.BuildNumber)))

	if !e.dispatcher.Install(ctx, outcome.Path, manifest.ChecksumBytes()) {
		e.fetcher.Discard()
		return false, &passError{update.ReasonInstallDispatchFailed, errInstallDispatchRefused}
	}

	e.emit(newEvent(update.PhaseCleanup,
		"Install dispatched, artifact retained for the grace delay"))

	// The installer only dispatched the request; give the platform (or the
	// operator) time to consume the artifact before deleting it.
	if err = sleepContext(ctx, e.dispatcher.Grace()); err != nil {
		return false, err
	}

	e.fetcher.Discard()

	logger.InfoKV(ctx, "Update pass complete", "build", manifest.BuildNumber)

	return true, nil
}

// awaitConnectivity polls the monitor until the network is eligible.
// There is no upper bound: the device must eventually succeed once power
// and network exist.
func (e *Engine) awaitConnectivity(ctx context.Context) error {
	e.emit(newEvent(update.PhaseWaitingForConnectivity,
		"Waiting for eligible network connectivity"))

	for !e.monitor.IsEligible() {
		logger.DebugKV(ctx, "Connectivity not eligible yet",
			"class", e.monitor.Classify().String())

		if err := sleepContext(ctx, e.cfg.PollInterval); err != nil {
			return err
		}
	}

	return nil
}

// downloadProgress adapts fetcher progress samples to status events.
func (e *Engine) downloadProgress() update.ProgressFunc {
	return func(p update.Progress) {
		e.bus.publish(update.StatusEvent{
			Phase:           update.PhaseDownloading,
			Message:         "Downloading artifact",
			Percent:         p.Percent,
			BytesDownloaded: p.BytesDone,
			TotalBytes:      p.BytesTotal,
		})
	}
}

// emit publishes a transition event to all listeners, best-effort.
func (e *Engine) emit(event update.StatusEvent) {
	e.bus.publish(event)
}

// newEvent builds a transition event without download counters.
func newEvent(phase update.Phase, message string) update.StatusEvent {
	return update.StatusEvent{
		Phase:      phase,
		Message:    message,
		Percent:    -1,
		TotalBytes: -1,
	}
}

// passError ties a recoverable failure to its taxonomy reason.
type passError struct {
	reason update.Reason
	err    error
}

func (e *passError) Error() string {
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *passError) Unwrap() error {
	return e.err
}

// sleepContext waits the duration or returns early when the context ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
