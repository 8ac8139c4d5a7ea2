package session

import "strings"

// AddressList is the ordered set of server base URLs the engine cycles
// through on failover.  It always holds at least one address and is
// owned by the engine goroutine, so it carries no lock.
type AddressList struct {
	addrs []string
	pos   int
}

// NewAddressList returns a list starting at the compiled-in base.
func NewAddressList(base string) *AddressList {
	return &AddressList{addrs: []string{normalize(base)}}
}

// Current returns the address in use.
func (a *AddressList) Current() string { return a.addrs[a.pos] }

// Next advances to the following address, wrapping at the end, and
// returns it.
func (a *AddressList) Next() string {
	a.pos = (a.pos + 1) % len(a.addrs)
	return a.addrs[a.pos]
}

// Replace discards every address and installs current followed by the
// redirectors, in order.  Duplicates are kept.  Empty entries are
// skipped.
func (a *AddressList) Replace(current string, redirectors []string) {
	next := make([]string, 0, 1+len(redirectors))
	next = append(next, normalize(current))
	for _, r := range redirectors {
		if r = normalize(r); r != "" {
			next = append(next, r)
		}
	}
	a.addrs = next
	a.pos = 0
}

// All returns a copy of the list.
func (a *AddressList) All() []string {
	out := make([]string, len(a.addrs))
	copy(out, a.addrs)
	return out
}

// Len returns the number of addresses.
func (a *AddressList) Len() int { return len(a.addrs) }

// normalize trims whitespace and trailing slashes so that joining a
// "/agent/..." path never yields a double slash.
func normalize(addr string) string {
	return strings.TrimRight(strings.TrimSpace(addr), "/")
}
