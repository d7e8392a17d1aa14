// Package core defines the identity and metadata types shared across the
// peer manager: peer ids, torrent info hashes, peer addresses, and the
// external-collaborator interfaces for torrent metadata and blocklists.
package core

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidPeerIDLength returns when a decoded peer id is not 20 bytes.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

// PeerID is the 20-byte self-reported client identifier exchanged during
// handshake. Unlike Addr, it is not a connection key -- two atoms may never
// share an address, but nothing prevents a malicious peer from reusing
// another's id.
type PeerID [20]byte

// NewPeerID parses a hex-encoded PeerID.
func NewPeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// RandomPeerID generates a new random PeerID, used by tests and by clients
// that have not yet received a remote handshake.
func RandomPeerID() (PeerID, error) {
	var p PeerID
	if _, err := rand.Read(p[:]); err != nil {
		return PeerID{}, fmt.Errorf("rand: %s", err)
	}
	return p, nil
}

// String encodes p in hexadecimal.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// LessThan reports whether p sorts before o.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) == -1
}
