// Package lease implements the Lease data model and the Lease Store (C9),
// the durable key/value facade the transaction manager commits confirmed
// bindings through.
package lease

import (
	"errors"
	"net"
	"time"

	"github.com/lion7/dhcpd/internal/hwaddr"
	"github.com/lion7/dhcpd/internal/subnet"
)

// ErrNotInSubnet is returned by New when addr does not fall within sn.
var ErrNotInSubnet = errors.New("lease: address does not belong to the given subnet")

// Lease is a confirmed or pending binding between a client and an address,
// as described in §3.
type Lease struct {
	Addr      net.IP
	SubnetRef subnet.CIDR
	TBegin    time.Time
	TEnd      time.Time
	HWAddr    hwaddr.Address
	CID       hwaddr.Address
	Hostname  string
}

// New builds a Lease starting now and running for duration, failing if addr
// does not belong to sn. The caller is responsible for having already
// force-allocated addr in sn before a lease referencing it is created.
func New(addr net.IP, sn *subnet.Subnet, duration time.Duration, hw, cid hwaddr.Address, hostname string) (*Lease, error) {
	if !sn.Contains(addr) {
		return nil, ErrNotInSubnet
	}
	now := timeNow()
	return &Lease{
		Addr:      addr,
		SubnetRef: sn.CIDR(),
		TBegin:    now,
		TEnd:      now.Add(duration),
		HWAddr:    hw,
		CID:       cid,
		Hostname:  hostname,
	}, nil
}

// Remaining is the time left before the lease expires, floored at zero.
func (l *Lease) Remaining() time.Duration {
	remaining := l.TEnd.Sub(timeNow())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Extend pushes TEnd forward by d. It fails if the lease has already
// expired: an expired lease must be re-allocated, not revived.
func (l *Lease) Extend(d time.Duration) error {
	if timeNow().After(l.TEnd) {
		return errors.New("lease: cannot extend an already-expired lease")
	}
	l.TEnd = l.TEnd.Add(d)
	return nil
}

// timeNow is a var so tests can freeze it.
var timeNow = time.Now
