package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/device-update-agent/internal/domain/update"
	"github.com/oshokin/device-update-agent/internal/logger"
)

const (
	// maxRedirectHops caps the manual redirect chain. Some artifact hosts
	// redirect across schemes, which an automatic client refuses to follow,
	// so redirects are resolved explicitly.
	maxRedirectHops = 5

	// copyBufferSize is the streaming buffer for the response body.
	copyBufferSize = 32 << 10

	// unknownLengthStep is the progress granularity when the server does
	// not announce a content length.
	unknownLengthStep int64 = 1 << 20

	// artifactFileMode keeps the downloaded artifact private to the agent.
	artifactFileMode os.FileMode = 0o600
)

var (
	errBadHTTPStatus      = errors.New("unexpected http status")
	errTooManyRedirects   = errors.New("redirect limit exceeded")
	errRedirectNoLocation = errors.New("redirect without location header")
	errEmptyBody          = errors.New("artifact body is empty")
	errChecksumMismatch   = errors.New("artifact checksum mismatch")
)

// Fetcher downloads one artifact at a time to a fixed private destination
// and verifies its integrity. On return the destination file is either
// absent or complete and verified, never partial.
type Fetcher struct {
	destination string
	client      *http.Client
}

// New builds a fetcher writing to the given destination path. The timeout
// bounds response headers, not the body stream, so large artifacts on slow
// links still complete.
func New(destination string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		destination: destination,
		client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
				Proxy:                 http.ProxyFromEnvironment,
			},
			// Redirects are followed manually in fetchResponse.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Destination returns the fixed artifact path this fetcher writes to.
func (f *Fetcher) Destination() string {
	return f.destination
}

// Discard removes any file at the destination path. Every run starts with
// a discard so a killed download can never be mistaken for a valid artifact.
func (f *Fetcher) Discard() {
	if err := os.Remove(f.destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(context.Background(), "Could not remove stale artifact",
			"path", f.destination, "error", err)
	}
}

// Fetch streams the artifact to the destination and verifies it against the
// expected hex SHA-256 digest when one is supplied. Failures are reported in
// the outcome, never raised, and always leave the destination absent.
func (f *Fetcher) Fetch(
	ctx context.Context,
	artifactURL string,
	expectedChecksum string,
	sink update.ProgressFunc,
) update.DownloadOutcome {
	// Idempotent re-entry: never trust a leftover file.
	f.Discard()

	response, err := f.fetchResponse(ctx, artifactURL)
	if err != nil {
		return f.fail(update.ReasonDownloadFailed, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	written, err := f.streamToDestination(response, sink)
	if err != nil {
		return f.fail(update.ReasonDownloadFailed, err)
	}

	if written == 0 {
		return f.fail(update.ReasonDownloadFailed, errEmptyBody)
	}

	if expectedChecksum != "" {
		if err = f.verifyChecksum(expectedChecksum); err != nil {
			return f.fail(update.ReasonChecksumMismatch, err)
		}
	}

	logger.InfoKV(ctx, "Artifact downloaded and verified",
		"path", f.destination, "bytes", written)

	return update.DownloadSuccess(f.destination, written)
}

// fetchResponse issues the GET and resolves redirects explicitly, up to
// maxRedirectHops, allowing cross-scheme hops.
func (f *Fetcher) fetchResponse(ctx context.Context, artifactURL string) (*http.Response, error) {
	current, err := url.Parse(artifactURL)
	if err != nil {
		return nil, fmt.Errorf("parse artifact URL: %w", err)
	}

	for hop := 0; hop <= maxRedirectHops; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("build artifact request: %w", err)
		}

		response, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch artifact: %w", err)
		}

		if !isRedirect(response.StatusCode) {
			if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
				_ = response.Body.Close()
				return nil, fmt.Errorf("%s: %w", response.Status, errBadHTTPStatus)
			}

			return response, nil
		}

		location := response.Header.Get("Location")

		_ = response.Body.Close()

		if location == "" {
			return nil, errRedirectNoLocation
		}

		next, err := current.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("resolve redirect location: %w", err)
		}

		current = next
	}

	return nil, fmt.Errorf("%w: more than %d hops", errTooManyRedirects, maxRedirectHops)
}

// streamToDestination copies the response body to the destination file,
// reporting bounded-rate progress to the sink.
func (f *Fetcher) streamToDestination(response *http.Response, sink update.ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(f.destination), 0o700); err != nil {
		return 0, fmt.Errorf("create artifact directory: %w", err)
	}

	file, err := os.OpenFile(f.destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, artifactFileMode)
	if err != nil {
		return 0, fmt.Errorf("create artifact file: %w", err)
	}

	reporter := newProgressReporter(response.ContentLength, sink)
	buffer := make([]byte, copyBufferSize)

	var written int64

	for {
		n, readErr := response.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := file.Write(buffer[:n]); writeErr != nil {
				_ = file.Close()
				return written, fmt.Errorf("write artifact: %w", writeErr)
			}

			written += int64(n)
			reporter.advance(written)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			_ = file.Close()

			return written, fmt.Errorf("read artifact body: %w", readErr)
		}
	}

	if err = file.Close(); err != nil {
		return written, fmt.Errorf("close artifact file: %w", err)
	}

	reporter.finish(written)

	return written, nil
}

// verifyChecksum computes the SHA-256 digest of the complete file on disk
// and compares it with the expected hex digest, case-insensitively.
func (f *Fetcher) verifyChecksum(expected string) error {
	file, err := os.Open(f.destination)
	if err != nil {
		return fmt.Errorf("open artifact for verification: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: want %s, got %s", errChecksumMismatch, strings.ToLower(expected), actual)
	}

	return nil
}

// fail removes whatever reached the destination and wraps the failure.
func (f *Fetcher) fail(reason update.Reason, err error) update.DownloadOutcome {
	f.Discard()

	return update.DownloadFailure(reason, err)
}

// isRedirect reports whether the status code asks the client to follow a location.
func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}
