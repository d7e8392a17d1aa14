// Package peer holds the live-connection record: bookkeeping that exists
// only while an I/O object is open for a given remote peer.
package peer

import (
	"fmt"
	"time"

	"github.com/ember-bt/ember/bitfield"
	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/refill"
)

// MaxInFlightRequests caps how many blocks the refill dispatch will keep
// outstanding against a single peer before probing it as FULL.
const MaxInFlightRequests = 16

// Rates tracks payload transfer rates in both directions. Byte counts
// accumulate between rechoke pulses; the pulse calls Sample to convert the
// window into bytes/sec and reset it.
type Rates struct {
	ToPeer   float64 // bytes/sec we have recently sent this peer.
	FromPeer float64 // bytes/sec we have recently received from this peer.

	bytesTo   int64
	bytesFrom int64
}

// AddToPeer records n payload bytes sent to the peer.
func (r *Rates) AddToPeer(n int) {
	r.bytesTo += int64(n)
}

// AddFromPeer records n payload bytes received from the peer.
func (r *Rates) AddFromPeer(n int) {
	r.bytesFrom += int64(n)
}

// Sample converts the bytes accumulated since the previous call into rates
// over interval and resets the window.
func (r *Rates) Sample(interval time.Duration) {
	secs := interval.Seconds()
	if secs <= 0 {
		return
	}
	r.ToPeer = float64(r.bytesTo) / secs
	r.FromPeer = float64(r.bytesFrom) / secs
	r.bytesTo = 0
	r.bytesFrom = 0
}

// Peer is a live-connection record. It exists only while the manager holds
// an I/O object for the remote address; removing it does not touch the
// owning atom's history, aside from stamping atom.Time on removal.
type Peer struct {
	Addr     core.Addr
	ID       core.PeerID
	ClientID string

	IO       conn.IO
	Messages conn.Messages

	// Have is the set of pieces this peer claims to have.
	Have *bitfield.Bitfield

	// Blame records which pieces this peer contributed blocks to, consulted
	// when a piece fails hash verification.
	Blame *bitfield.Bitfield

	Strikes int

	Rates Rates

	PeerChoked       bool
	PeerInterested   bool
	ClientChoked     bool
	ClientInterested bool

	// Progress is this peer's reported completion fraction, in [0, 1].
	Progress float64

	// Encrypted reports whether this connection negotiated protocol
	// encryption.
	Encrypted bool

	// FromPEX reports whether this peer's atom was originally discovered
	// via PEX, used only for the peer-stat flag string.
	FromPEX bool

	// Incoming reports whether this connection was accepted rather than
	// dialed.
	Incoming bool

	// IsOptimistic reports whether this peer currently holds the torrent's
	// optimistic-unchoke slot.
	IsOptimistic bool

	LastPieceDataActivity time.Time

	// DoPurge marks a peer for removal at the next opportunity, set when a
	// peer is banned mid-pulse so in-flight bookkeeping is not disturbed.
	DoPurge bool

	// InFlight tracks blocks the refill dispatch has requested from this
	// peer but not yet seen satisfied or cancelled.
	InFlight map[refill.Block]bool
}

// New creates a Peer beginning life with neutral choke/interest bits, per
// spec.md §4.5: "The resulting peer begins life with neutral choke/interest
// bits; the next rechoke decides its fate."
func New(
	addr core.Addr,
	id core.PeerID,
	clientID string,
	io conn.IO,
	messages conn.Messages,
	numPieces int) *Peer {

	return &Peer{
		Addr:             addr,
		ID:               id,
		ClientID:         clientID,
		IO:               io,
		Messages:         messages,
		Have:             bitfield.New(uint(numPieces)),
		Blame:            bitfield.New(uint(numPieces)),
		PeerChoked:       true,
		ClientChoked:     true,
		PeerInterested:   false,
		ClientInterested: false,
		Incoming:         io.Incoming(),
		InFlight:         make(map[refill.Block]bool),
	}
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer(%s, %s)", p.Addr, p.ID)
}

// Strike adds a strike to the peer and returns the new strike count.
func (p *Peer) Strike() int {
	p.Strikes++
	return p.Strikes
}

// IsSeed reports whether this peer claims to have every piece.
func (p *Peer) IsSeed() bool {
	return p.Have.Complete()
}

// StatFlags renders the peer-stat flag string per spec.md §6: O optimistic
// unchoke; D/d downloading-from / interested-but-choked; U/u uploading-to /
// peer-interested-but-choked; K unchoked-but-not-interested; ? peer-
// unchoked-but-uninterested; E encrypted; X from PEX; I incoming.
//
// PeerChoked/PeerInterested describe the peer's state as seen by us (are
// they choked, are they interested in us); ClientChoked/ClientInterested
// describe our own state as seen by the peer (are we choked by them, are
// we interested in them).
func (p *Peer) StatFlags() string {
	var flags string

	if p.IsOptimistic {
		flags += "O"
	}

	switch {
	case !p.ClientChoked && p.ClientInterested:
		flags += "D"
	case p.ClientChoked && p.ClientInterested:
		flags += "d"
	}

	switch {
	case !p.PeerChoked && p.PeerInterested:
		flags += "U"
	case p.PeerChoked && p.PeerInterested:
		flags += "u"
	}

	if !p.ClientChoked && !p.ClientInterested {
		flags += "K"
	}
	if !p.PeerChoked && !p.PeerInterested {
		flags += "?"
	}

	if p.Encrypted {
		flags += "E"
	}
	if p.FromPEX {
		flags += "X"
	}
	if p.Incoming {
		flags += "I"
	}

	return flags
}
