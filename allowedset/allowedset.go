// Package allowedset derives the deterministic set of pieces a peer may
// request from us even while choked, under the BitTorrent fast extension.
package allowedset

import (
	"crypto/sha1"
	"encoding/binary"

	"github.com/ember-bt/ember/bitfield"
	"github.com/ember-bt/ember/core"
)

// Generate computes the allowed set of size k for a peer at addr downloading
// a torrent of sz pieces, per spec.md §4.1.
//
// Let w = (ip & 0xFFFFFF00) || infohash (24 bytes) and x = SHA1(w). Walk x
// in 4-byte big-endian chunks; each chunk y contributes piece y mod sz to
// the set if not already present. If x is exhausted (5 draws) before the
// set reaches size k, rehash x = SHA1(x) and keep drawing.
func Generate(k, sz int, infoHash core.InfoHash, addr core.Addr) *bitfield.Bitfield {
	result := bitfield.New(uint(sz))
	if sz == 0 || k <= 0 {
		return result
	}
	if k > sz {
		k = sz
	}

	slash24 := addr.Slash24()
	w := make([]byte, 0, 4+20)
	w = append(w, slash24[:]...)
	w = append(w, infoHash.Bytes()...)

	x := sha1Sum(w)

	count := 0
	for count < k {
		for i := 0; i < 5 && count < k; i++ {
			y := binary.BigEndian.Uint32(x[i*4 : i*4+4])
			piece := uint(int(y) % sz)
			if !result.Test(piece) {
				result.Add(piece)
				count++
			}
		}
		if count < k {
			x = sha1Sum(x[:])
		}
	}
	return result
}

func sha1Sum(b []byte) [20]byte {
	return sha1.Sum(b)
}
