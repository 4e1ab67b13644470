// Package update defines the domain types shared by the update engine:
// the remote release manifest, the download outcome variants, failure
// reasons, orchestrator phases and the status events emitted to observers.
//
// The package is pure data: no I/O, no side effects.
package update
