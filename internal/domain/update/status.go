package update

// Phase identifies a state of the orchestrator state machine.
type Phase int

const (
	// PhaseWaitingForConnectivity polls the connectivity monitor until eligible.
	PhaseWaitingForConnectivity Phase = iota
	// PhaseCheckingVersion fetches the manifest and compares build numbers.
	PhaseCheckingVersion
	// PhaseUpToDate is terminal: the installed build is current.
	PhaseUpToDate
	// PhaseDownloading streams and verifies the artifact.
	PhaseDownloading
	// PhaseInstalling hands the verified artifact to an install strategy.
	PhaseInstalling
	// PhaseCleanup is terminal: the install was dispatched and the
	// artifact is removed after the grace delay.
	PhaseCleanup
	// PhaseRetryScheduled waits out the backoff before a fresh pass.
	PhaseRetryScheduled
)

// String returns a stable machine-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseWaitingForConnectivity:
		return "waiting_for_connectivity"
	case PhaseCheckingVersion:
		return "checking_version"
	case PhaseUpToDate:
		return "up_to_date"
	case PhaseDownloading:
		return "downloading"
	case PhaseInstalling:
		return "installing"
	case PhaseCleanup:
		return "cleanup"
	case PhaseRetryScheduled:
		return "retry_scheduled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseUpToDate || p == PhaseCleanup
}

// StatusEvent is emitted on every state transition for external observers.
// Delivery is best-effort; the state machine never blocks on a listener.
type StatusEvent struct {
	// Phase is the state the orchestrator just entered.
	Phase Phase
	// Message is a short human-readable description of the transition.
	Message string
	// Percent is the download completion in [0,100], or -1 when unknown
	// or not applicable.
	Percent int
	// BytesDownloaded is the number of artifact bytes transferred so far.
	BytesDownloaded int64
	// TotalBytes is the expected artifact size, or -1 when the server
	// does not announce one.
	TotalBytes int64
}

// Progress is a bounded-rate download progress sample.
type Progress struct {
	// BytesDone is the number of bytes written so far.
	BytesDone int64
	// BytesTotal is the expected total, or -1 when unknown.
	BytesTotal int64
	// Percent is the completed percentage, or -1 when BytesTotal is unknown.
	Percent int
}

// ProgressFunc consumes progress samples. Implementations must be cheap;
// the fetcher calls them inline between buffer writes.
type ProgressFunc func(Progress)
