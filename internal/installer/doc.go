// Package installer dispatches a verified artifact to the platform
// installer. It prefers a non-interactive in-place apply when the agent
// holds write privilege on the managed binary and falls back to the
// platform's open/view mechanism, which asks the operator to confirm.
package installer
