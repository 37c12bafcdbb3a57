package util

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ParseIP parses an IPv4 or IPv6 address. IPv4-mapped IPv6 addresses are
// unmapped and zones dropped so that one neighbor has one spelling.
func ParseIP(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address: %s", s)
	}
	return addr.Unmap().WithZone(""), nil
}

// IsIPv6LinkLocal reports whether addr is an IPv6 link-local unicast address
// (fe80::/10).
func IsIPv6LinkLocal(addr netip.Addr) bool {
	return addr.Is6() && !addr.Is4In6() && addr.IsLinkLocalUnicast()
}

// NormalizeMAC parses a MAC address and returns it in lower-case
// colon-separated form.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid MAC address: %s", s)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("invalid MAC address: %s (want 6 bytes)", s)
	}
	return hw.String(), nil
}

// ValidateMTU validates an MTU value
func ValidateMTU(mtu int) error {
	if mtu < 68 || mtu > 9216 {
		return fmt.Errorf("MTU %d out of range (68-9216)", mtu)
	}
	return nil
}
