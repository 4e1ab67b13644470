// Package agent contains the update orchestrator: the state machine that
// gates on connectivity, discovers the latest build, downloads and verifies
// the artifact, dispatches the install and cleans up, retrying forever on
// any recoverable failure.
//
// The engine holds no state across process restarts. Everything is
// re-derived from the installed-package registry and the remote manifest,
// which makes every activation idempotent.
package agent
