// Package connectivity classifies current network reachability into the
// none / restricted / unrestricted classes and answers whether the
// configured deployment mode allows an update pass to proceed.
//
// The monitor is purely observational: it inspects interfaces, never
// blocks and performs no network I/O, so the orchestrator can poll it
// on a timer.
package connectivity
