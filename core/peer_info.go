package core

// From enumerates how an atom's address was first discovered.
type From int

// Atom discovery sources, per spec.md §6.
const (
	FromIncoming From = iota
	FromTracker
	FromCache
	FromPEX
	FromResume
)

func (f From) String() string {
	switch f {
	case FromIncoming:
		return "incoming"
	case FromTracker:
		return "tracker"
	case FromCache:
		return "cache"
	case FromPEX:
		return "pex"
	case FromResume:
		return "resume"
	default:
		return "unknown"
	}
}

// Flag bits on the protocol-visible PeerInfo.Flags byte, matching
// BitTorrent PEX added.f semantics.
const (
	EncryptionFlag byte = 0x01
	SeedFlag       byte = 0x02
)

// PeerInfo describes a candidate peer address as discovered via tracker,
// PEX, resume data, or an incoming connection -- the payload handed to
// ensureAtomExists.
type PeerInfo struct {
	Addr  Addr
	Flags byte
	From  From
}
