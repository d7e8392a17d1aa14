// Package atom implements the per-torrent pool of known peer addresses:
// durable records that outlive any single connection, used to drive the
// reconnection pulse's candidate selection.
package atom

import (
	"time"

	"github.com/ember-bt/ember/core"
)

// Flags are manager-local bits tracked per atom, distinct from the
// protocol-visible flags a peer advertises about itself.
type Flags uint8

const (
	// Banned marks an atom the local client refuses to ever reconnect to.
	Banned Flags = 1 << iota
	// Unreachable marks an atom whose most recent outgoing connection
	// attempt failed to establish a socket.
	Unreachable
)

// Atom is a compact, durable record of a peer address the manager has ever
// heard of for a given torrent. Atoms are created on first sighting and
// destroyed only when their owning torrent is removed -- they survive the
// connection that discovered them.
type Atom struct {
	Addr core.Addr

	// Flags are the protocol-visible bits last reported for this address
	// (e.g. core.SeedFlag), independent of MyFlags.
	Flags byte

	// MyFlags are manager-local bits (Banned, Unreachable).
	MyFlags Flags

	// From records how this address was first discovered.
	From core.From

	// NumFails counts consecutive failed connection attempts.
	NumFails int

	// Time is the timestamp of the last connection attempt or disconnect.
	Time time.Time

	// PieceDataTime is the last time this peer transferred payload bytes
	// to us, used to exempt recently-productive peers from cool-down.
	PieceDataTime time.Time
}

// New creates an Atom for addr, first seen via from.
func New(addr core.Addr, from core.From) *Atom {
	return &Atom{Addr: addr, From: from}
}

// IsSeed reports whether the atom's last known protocol flags mark it a
// seed.
func (a *Atom) IsSeed() bool {
	return a.Flags&core.SeedFlag != 0
}

// Banned reports whether the atom is banned from future connections.
func (a *Atom) Banned() bool {
	return a.MyFlags&Banned != 0
}

// SetBanned marks or unmarks the atom as banned.
func (a *Atom) SetBanned(v bool) {
	if v {
		a.MyFlags |= Banned
	} else {
		a.MyFlags &^= Banned
	}
}

// Unreachable reports whether the atom's last connection attempt failed to
// establish a socket.
func (a *Atom) Unreachable() bool {
	return a.MyFlags&Unreachable != 0
}

// SetUnreachable marks or unmarks the atom as unreachable.
func (a *Atom) SetUnreachable(v bool) {
	if v {
		a.MyFlags |= Unreachable
	} else {
		a.MyFlags &^= Unreachable
	}
}
