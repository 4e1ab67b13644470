package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the static deployment settings of the update agent.
// Everything here is fixed configuration; nothing is negotiated at runtime.
type Config struct {
	// PackageID is the identifier of the managed application. It labels
	// log entries and status events and is passed to the registry query.
	PackageID string `yaml:"package_id"`
	// ManifestURL is where the remote release manifest is fetched from.
	ManifestURL string `yaml:"manifest_url"`
	// ConnectivityMode selects which network classes make a run eligible:
	// "restricted-only" accepts only the restricted class, "any" accepts
	// any class with reachability.
	ConnectivityMode string `yaml:"connectivity_mode"`
	// RestrictedPrefixes lists interface-name prefixes that count as the
	// restricted (operator-approved) connectivity class.
	RestrictedPrefixes []string `yaml:"restricted_prefixes"`
	// PollInterval is the delay between connectivity checks while waiting
	// for an eligible network.
	PollInterval time.Duration `yaml:"poll_interval"`
	// RetryBackoff is the fixed delay before a failed pass restarts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// HTTPTimeout bounds the manifest request and each artifact response.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// ArtifactPath is the private destination file for downloads.
	ArtifactPath string `yaml:"artifact_path"`
	// TargetPath is the installed application binary replaced by the
	// privileged install strategy. Empty disables the privileged path.
	TargetPath string `yaml:"target_path"`
	// OpenerCommand is the platform dispatch command used by the
	// interactive install strategy.
	OpenerCommand string `yaml:"opener_command"`
	// InstalledVersionCommand is executed to read the installed build
	// number from the package registry. Empty means "never installed".
	InstalledVersionCommand string `yaml:"installed_version_command"`
	// PrivilegedGrace is how long the artifact survives after a
	// privileged install dispatch.
	PrivilegedGrace time.Duration `yaml:"privileged_grace"`
	// InteractiveGrace is how long the artifact survives after an
	// interactive install dispatch; a human has to act, so it is long.
	InteractiveGrace time.Duration `yaml:"interactive_grace"`
}

const (
	// DefaultConfigFilename is the default filename for agent settings.
	DefaultConfigFilename = "update-agent-settings.yaml"

	// ModeRestrictedOnly accepts only the restricted connectivity class.
	ModeRestrictedOnly = "restricted-only"
	// ModeAny accepts any connectivity class with reachability.
	ModeAny = "any"

	// DefaultPollInterval is the connectivity polling interval.
	DefaultPollInterval = 30 * time.Second
	// DefaultRetryBackoff is the fixed delay between failed passes.
	DefaultRetryBackoff = 60 * time.Second
	// DefaultHTTPTimeout bounds manifest and artifact requests.
	DefaultHTTPTimeout = 15 * time.Second
	// DefaultPrivilegedGrace is the artifact retention after a silent install.
	DefaultPrivilegedGrace = 5 * time.Second
	// DefaultInteractiveGrace is the artifact retention after a dialog install.
	DefaultInteractiveGrace = 2 * time.Minute

	// DefaultOpenerCommand dispatches a file to the platform handler.
	DefaultOpenerCommand = "xdg-open"

	// DefaultFilePermissions restricts saved settings files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errManifestURLRequired is returned when the manifest URL is missing.
	errManifestURLRequired = errors.New("manifest URL must be provided")
	// errUnknownConnectivityMode is returned for unrecognized mode strings.
	errUnknownConnectivityMode = errors.New("unknown connectivity mode")
)

// defaultRestrictedPrefixes matches wired interfaces on common platforms.
func defaultRestrictedPrefixes() []string {
	return []string{"eth", "en"}
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and applies defaults in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ManifestURL == "" {
		return errManifestURLRequired
	}

	if _, err := url.ParseRequestURI(cfg.ManifestURL); err != nil {
		return fmt.Errorf("invalid manifest URL: %w", err)
	}

	switch cfg.ConnectivityMode {
	case "":
		cfg.ConnectivityMode = ModeAny
	case ModeRestrictedOnly, ModeAny:
	default:
		return fmt.Errorf("%w: %s", errUnknownConnectivityMode, cfg.ConnectivityMode)
	}

	if len(cfg.RestrictedPrefixes) == 0 {
		cfg.RestrictedPrefixes = defaultRestrictedPrefixes()
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}

	if cfg.PrivilegedGrace <= 0 {
		cfg.PrivilegedGrace = DefaultPrivilegedGrace
	}

	if cfg.InteractiveGrace <= 0 {
		cfg.InteractiveGrace = DefaultInteractiveGrace
	}

	if cfg.OpenerCommand == "" {
		cfg.OpenerCommand = DefaultOpenerCommand
	}

	if cfg.ArtifactPath == "" {
		cfg.ArtifactPath = filepath.Join(os.TempDir(), "update-agent", "artifact.pkg")
	}

	return nil
}
