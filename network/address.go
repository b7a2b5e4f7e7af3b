package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"net/netip"
)

// ErrAddressExhausted is returned when a subnet has no host address left.
var ErrAddressExhausted = errors.New("address space exhausted")

// AddressHelper hands out sequential host addresses from an IPv4 subnet,
// starting from the first host address.
type AddressHelper struct {
	prefix netip.Prefix
	next   uint32
	last   uint32
}

// NewAddressHelper creates an AddressHelper for a network such as
// "10.1.1.0" with a dotted mask such as "255.255.255.0".
func NewAddressHelper(network, mask string) (*AddressHelper, error) {
	base, err := netip.ParseAddr(network)
	if err != nil {
		return nil, fmt.Errorf("network address: %w", err)
	}

	if !base.Is4() {
		return nil, fmt.Errorf("network address %s is not IPv4", base)
	}

	maskAddr, err := netip.ParseAddr(mask)
	if err != nil {
		return nil, fmt.Errorf("network mask: %w", err)
	}

	bitLen, err := maskLength(maskAddr)
	if err != nil {
		return nil, err
	}

	prefix := netip.PrefixFrom(base, bitLen).Masked()
	if prefix.Addr() != base {
		return nil, fmt.Errorf("%s is not the network address of %s",
			base, prefix)
	}

	h := &AddressHelper{prefix: prefix}
	first := addrToUint(prefix.Addr())
	hostBits := 32 - bitLen
	size := uint32(1) << hostBits
	if hostBits == 32 {
		size = 0
	}

	h.next = first + 1
	h.last = first + size - 2 // skip the broadcast address

	if hostBits < 2 {
		h.last = first + size - 1
		h.next = first
	}

	return h, nil
}

// Prefix returns the subnet the helper assigns from.
func (h *AddressHelper) Prefix() netip.Prefix {
	return h.prefix
}

// Assign returns the next free host address.
func (h *AddressHelper) Assign() (netip.Addr, error) {
	if h.next > h.last || h.next == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrAddressExhausted, h.prefix)
	}

	addr := uintToAddr(h.next)
	h.next++

	return addr, nil
}

func maskLength(mask netip.Addr) (int, error) {
	if !mask.Is4() {
		return 0, fmt.Errorf("mask %s is not IPv4", mask)
	}

	v := addrToUint(mask)
	ones := bits.LeadingZeros32(^v)
	if bits.TrailingZeros32(v) != 32-ones && v != 0 {
		return 0, fmt.Errorf("mask %s is not contiguous", mask)
	}

	return ones, nil
}

func addrToUint(a netip.Addr) uint32 {
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func uintToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)

	return netip.AddrFrom4(b)
}
