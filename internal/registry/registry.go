package registry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/oshokin/device-update-agent/internal/logger"
)

// queryTimeout bounds the registry query command.
const queryTimeout = 10 * time.Second

var (
	errEmptyVersionOutput   = errors.New("version command produced no output")
	errInvalidVersionOutput = errors.New("invalid version output format")
)

// Reader answers the read-only question "which build of the target
// application is installed, if any".
type Reader interface {
	// InstalledBuild returns the installed build number. The installed
	// flag is false when the application was never installed.
	InstalledBuild(ctx context.Context) (buildNumber int64, installed bool, err error)
}

// CommandReader queries the platform package registry by running a
// configured command and parsing a build number from its output.
type CommandReader struct {
	command string
}

// NewCommandReader builds a reader around the configured query command.
// An empty command means the registry always reports "not installed".
func NewCommandReader(command string) *CommandReader {
	return &CommandReader{command: strings.TrimSpace(command)}
}

// InstalledBuild runs the query command. A failing command is not an
// error: it is how a first boot with nothing installed looks.
func (r *CommandReader) InstalledBuild(ctx context.Context) (int64, bool, error) {
	if r.command == "" {
		return 0, false, nil
	}

	parts := strings.Fields(r.command)

	cmdCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	//nolint:gosec // The command comes from operator-owned static configuration.
	cmd := exec.CommandContext(cmdCtx, parts[0], parts[1:]...)

	output, err := cmd.Output()
	if err != nil {
		logger.WarnKV(ctx, "Registry query failed, treating as not installed",
			"command", parts[0], "error", err)

		return 0, false, nil
	}

	buildNumber, err := parseBuildFromOutput(string(output))
	if err != nil {
		return 0, false, err
	}

	return buildNumber, true, nil
}

// parseBuildFromOutput extracts a positive build number from command output.
// Accepted forms: a bare integer, or a "build: N" / "versionCode: N" line.
func parseBuildFromOutput(output string) (int64, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return 0, errEmptyVersionOutput
	}

	// Take the first line; tools often append build metadata below it.
	line := output
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}

	if idx := strings.LastIndexByte(line, ':'); idx >= 0 {
		line = strings.TrimSpace(line[idx+1:])
	}

	buildNumber, err := strconv.ParseInt(line, 10, 64)
	if err != nil || buildNumber <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidVersionOutput, output)
	}

	return buildNumber, nil
}
