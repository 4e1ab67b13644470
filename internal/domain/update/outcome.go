package update

// Reason classifies a recoverable failure of one orchestrator pass.
// Every reason is retryable; the distinction only drives logging,
// status events and artifact purging.
type Reason int

const (
	// ReasonNone marks a successful outcome.
	ReasonNone Reason = iota
	// ReasonConnectivityUnavailable means no eligible network is present.
	ReasonConnectivityUnavailable
	// ReasonManifestUnavailable covers unreachable, non-2xx and malformed manifests.
	ReasonManifestUnavailable
	// ReasonDownloadFailed covers transport errors, non-2xx responses,
	// exceeded redirect limits and empty bodies.
	ReasonDownloadFailed
	// ReasonChecksumMismatch means the downloaded artifact failed digest
	// verification. The corrupt file must be purged before any retry.
	ReasonChecksumMismatch
	// ReasonInstallDispatchFailed means no install strategy accepted the artifact.
	ReasonInstallDispatchFailed
)

// String returns a stable machine-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonConnectivityUnavailable:
		return "connectivity_unavailable"
	case ReasonManifestUnavailable:
		return "manifest_unavailable"
	case ReasonDownloadFailed:
		return "download_failed"
	case ReasonChecksumMismatch:
		return "checksum_mismatch"
	case ReasonInstallDispatchFailed:
		return "install_dispatch_failed"
	default:
		return "unknown"
	}
}

// DownloadOutcome is the two-variant result of one artifact fetch.
// On success Path names a complete, verified file; on failure the
// destination file is guaranteed absent.
type DownloadOutcome struct {
	// Path is the local artifact location. Empty on failure.
	Path string
	// ByteLength is the size of the verified artifact. Zero on failure.
	ByteLength int64
	// Reason is ReasonNone on success, the failure class otherwise.
	Reason Reason
	// Err carries the underlying cause for logging. Nil on success.
	Err error
}

// DownloadSuccess builds the success variant.
func DownloadSuccess(path string, byteLength int64) DownloadOutcome {
	return DownloadOutcome{Path: path, ByteLength: byteLength, Reason: ReasonNone}
}

// DownloadFailure builds the failure variant.
func DownloadFailure(reason Reason, err error) DownloadOutcome {
	return DownloadOutcome{Reason: reason, Err: err}
}

// OK reports whether the fetch succeeded.
func (o DownloadOutcome) OK() bool {
	return o.Reason == ReasonNone
}
