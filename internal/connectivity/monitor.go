package connectivity

import (
	"net"
	"strings"

	"github.com/oshokin/device-update-agent/internal/config"
)

// Class is the coarse network classification reported by the monitor.
type Class int

const (
	// ClassNone means no usable network is present.
	ClassNone Class = iota
	// ClassRestricted means a link of the operator-approved class is usable.
	ClassRestricted
	// ClassUnrestricted means only links outside the restricted class are usable.
	ClassUnrestricted
)

// String returns a stable machine-readable name for the class.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRestricted:
		return "restricted"
	case ClassUnrestricted:
		return "unrestricted"
	default:
		return "unknown"
	}
}

// Link is one network interface as seen by the monitor.
type Link struct {
	// Name is the interface name, e.g. "eth0".
	Name string
	// Up reports whether the interface is administratively and operationally up.
	Up bool
	// HasGlobalAddr reports whether the interface carries a global unicast address.
	HasGlobalAddr bool
}

// ListLinks enumerates network links. Replaceable for tests.
type ListLinks func() ([]Link, error)

// Monitor classifies current network reachability. It is purely
// observational, has no side effects and never blocks; callers poll it.
type Monitor struct {
	restrictedOnly     bool
	restrictedPrefixes []string
	list               ListLinks
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithListLinks replaces the link enumerator, primarily for tests.
func WithListLinks(list ListLinks) Option {
	return func(m *Monitor) {
		m.list = list
	}
}

// NewMonitor builds a monitor for the configured eligibility mode and
// restricted-class interface prefixes.
func NewMonitor(mode string, restrictedPrefixes []string, opts ...Option) *Monitor {
	m := &Monitor{
		restrictedOnly:     mode == config.ModeRestrictedOnly,
		restrictedPrefixes: restrictedPrefixes,
		list:               systemLinks,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Classify reports the best available network class. A usable
// restricted-class link wins over unrestricted ones, since strict
// deployments would route through it.
func (m *Monitor) Classify() Class {
	links, err := m.list()
	if err != nil {
		return ClassNone
	}

	best := ClassNone

	for _, link := range links {
		if !link.Up || !link.HasGlobalAddr {
			continue
		}

		if m.isRestrictedClass(link.Name) {
			return ClassRestricted
		}

		best = ClassUnrestricted
	}

	return best
}

// IsEligible reports whether the current connectivity satisfies the
// configured deployment mode.
func (m *Monitor) IsEligible() bool {
	switch m.Classify() {
	case ClassRestricted:
		return true
	case ClassUnrestricted:
		return !m.restrictedOnly
	default:
		return false
	}
}

// isRestrictedClass matches the interface name against configured prefixes.
func (m *Monitor) isRestrictedClass(name string) bool {
	for _, prefix := range m.restrictedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

// systemLinks enumerates real interfaces, skipping loopbacks.
func systemLinks() ([]Link, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	links := make([]Link, 0, len(interfaces))

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		link := Link{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
		}

		if link.Up {
			link.HasGlobalAddr = hasGlobalAddr(&iface)
		}

		links = append(links, link)
	}

	return links, nil
}

// hasGlobalAddr reports whether the interface carries a global unicast address.
func hasGlobalAddr(iface *net.Interface) bool {
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}

		if ipNet.IP.IsGlobalUnicast() {
			return true
		}
	}

	return false
}
