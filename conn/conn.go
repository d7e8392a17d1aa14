// Package conn defines the external collaborators the peer manager relies
// on but does not implement itself: the peer I/O object, the message-layer
// pump, and the handshake state machine. The wire protocol codec, the
// handshake bytes on the network, and the wire/I/O error taxonomy all live
// outside this module -- conn only pins down the interfaces the rest of the
// peer manager calls through.
package conn

import (
	"time"

	"github.com/ember-bt/ember/core"
)

// IO is the peer I/O object: a live socket (or equivalent) bound to exactly
// one remote peer. InfoHash is only known once the handshake has progressed
// far enough to learn it; incoming handshakes that fail earlier never learn
// it at all.
type IO interface {
	Addr() core.Addr
	Age() time.Duration
	Encrypted() bool
	Incoming() bool
	InfoHash() (core.InfoHash, bool)

	// Close releases the underlying socket. Called by the manager when a
	// handshake resolves without producing a live peer, and when a live
	// peer is removed.
	Close()
}

// EventKind enumerates the message-layer events the dispatch glue
// (spec.md §4.6) reacts to.
type EventKind int

// Message-layer event kinds.
const (
	EventNeedRequest EventKind = iota
	EventCancel
	EventPieceData
	EventClientHave
	EventPeerHave
	EventPeerProgress
	EventClientBlock
	EventIOError
	EventAssertError
)

// Event is a single occurrence delivered from a peer's message layer to the
// torrent's event handler. For EventCancel, EventPieceData, and
// EventClientBlock, Offset carries the block index within Piece (not a byte
// offset) -- the dispatch glue operates at block granularity throughout,
// mapping (Piece, Offset) through TorrentMeta.BlockIndex to the flattened
// index refill.Block carries. EventPeerHave carries one piece index in Piece; a
// wire BITFIELD message is expected to be unpacked into one EventPeerHave
// per set bit by the message layer, since the wire codec is out of this
// module's scope.
type Event struct {
	Kind EventKind

	Piece  int
	Offset int
	Length int

	// Progress is populated for EventPeerProgress, in [0, 1].
	Progress float64

	// Outgoing is populated for EventPieceData: true when Length payload
	// bytes went to the peer, false when they came from it.
	Outgoing bool

	// Err is populated for EventIOError and EventAssertError.
	Err error
}

// Messages is the wire protocol codec and message pump for a single peer
// connection. Dispatch logic calls through Messages to send protocol
// messages; Events delivers the inbound stream the manager reacts to.
type Messages interface {
	SetChoke(choked bool) error
	AddRequest(piece, block int) error
	Have(piece int) error
	Cancel(piece, offset, length int) error
	Events() <-chan Event
	Close()
}

// HandshakeResult is delivered to the handshake-completion callback
// (spec.md §4.5) once a handshake attempt concludes, successfully or not.
type HandshakeResult struct {
	IO          IO
	IsConnected bool
	PeerID      core.PeerID
	ClientID    string
}

// PendingConn tracks a handshake in flight, either incoming (address known,
// infohash not yet) or outgoing (both known up front). It is held in the
// manager's global incoming-handshake set or a torrent's outgoing-handshake
// set until the handshake layer resolves it.
type PendingConn struct {
	Addr      core.Addr
	InfoHash  core.InfoHash
	Incoming  bool
	StartedAt time.Time
}

// MessagesFactory builds a Messages pump bound to io, once a handshake
// resolves into a live connection. Constructing the wire-protocol pump
// itself is out of this module's scope (spec.md §1); this is the seam the
// handshake-completion callback uses to obtain one.
type MessagesFactory func(io IO) Messages

// Handshaker is the handshake state machine: given an address (outgoing) or
// an accepted socket (incoming), it negotiates the BitTorrent handshake and
// resolves with a HandshakeResult via the manager's done-callback.
type Handshaker interface {
	// Open begins an outgoing handshake to addr for infoHash, returning a
	// PendingConn to track until the done-callback fires.
	Open(addr core.Addr, infoHash core.InfoHash) (*PendingConn, error)

	// Abort cancels a handshake in progress. The handshake layer must still
	// invoke the done-callback with isConnected=false.
	Abort(p *PendingConn)
}
