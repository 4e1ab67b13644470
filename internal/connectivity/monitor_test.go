package connectivity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/device-update-agent/internal/config"
)

// staticLinks returns a ListLinks that always reports the given links.
func staticLinks(links ...Link) ListLinks {
	return func() ([]Link, error) {
		return links, nil
	}
}

// TestClassify covers the none/restricted/unrestricted classification rules.
func TestClassify(t *testing.T) {
	t.Parallel()

	prefixes := []string{"eth"}

	// No links at all.
	m := NewMonitor(config.ModeAny, prefixes, WithListLinks(staticLinks()))
	require.Equal(t, ClassNone, m.Classify())

	// Link up but without an address is not usable.
	m = NewMonitor(config.ModeAny, prefixes, WithListLinks(staticLinks(
		Link{Name: "eth0", Up: true},
	)))
	require.Equal(t, ClassNone, m.Classify())

	// A usable restricted-class link wins even when others exist.
	m = NewMonitor(config.ModeAny, prefixes, WithListLinks(staticLinks(
		Link{Name: "wwan0", Up: true, HasGlobalAddr: true},
		Link{Name: "eth0", Up: true, HasGlobalAddr: true},
	)))
	require.Equal(t, ClassRestricted, m.Classify())

	// Only non-restricted links are usable.
	m = NewMonitor(config.ModeAny, prefixes, WithListLinks(staticLinks(
		Link{Name: "wwan0", Up: true, HasGlobalAddr: true},
	)))
	require.Equal(t, ClassUnrestricted, m.Classify())

	// Enumeration failure reads as no connectivity.
	m = NewMonitor(config.ModeAny, prefixes, WithListLinks(func() ([]Link, error) {
		return nil, errors.New("netlink down")
	}))
	require.Equal(t, ClassNone, m.Classify())
}

// TestIsEligible verifies the eligibility predicate per deployment mode.
func TestIsEligible(t *testing.T) {
	t.Parallel()

	prefixes := []string{"eth"}
	restricted := staticLinks(Link{Name: "eth0", Up: true, HasGlobalAddr: true})
	unrestricted := staticLinks(Link{Name: "wwan0", Up: true, HasGlobalAddr: true})

	// Strict deployments accept only the restricted class.
	m := NewMonitor(config.ModeRestrictedOnly, prefixes, WithListLinks(restricted))
	require.True(t, m.IsEligible())

	m = NewMonitor(config.ModeRestrictedOnly, prefixes, WithListLinks(unrestricted))
	require.False(t, m.IsEligible())

	// General-purpose deployments accept either class.
	m = NewMonitor(config.ModeAny, prefixes, WithListLinks(unrestricted))
	require.True(t, m.IsEligible())

	m = NewMonitor(config.ModeAny, prefixes, WithListLinks(staticLinks()))
	require.False(t, m.IsEligible())
}
