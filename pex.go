package ember

import (
	"encoding/binary"

	"github.com/ember-bt/ember/core"
)

// pexRecordLen is the size of one compact PEX record: 4-byte big-endian
// IPv4 address + 2-byte big-endian port, per spec.md §6.
const pexRecordLen = 6

// CompactToPex decodes compact into a slice of core.PeerInfo, per spec.md
// §6: "6-byte records: 4-byte IPv4 big-endian + 2-byte port big-endian;
// optional parallel added_f byte array assigns flags. Any trailing
// partial record is ignored." addedFlags may be nil; if shorter than the
// number of whole records, the remaining peers get flags 0.
func CompactToPex(compact []byte, addedFlags []byte) []core.PeerInfo {
	n := len(compact) / pexRecordLen
	out := make([]core.PeerInfo, 0, n)
	for i := 0; i < n; i++ {
		rec := compact[i*pexRecordLen : (i+1)*pexRecordLen]
		var ip [4]byte
		copy(ip[:], rec[:4])
		port := binary.BigEndian.Uint16(rec[4:6])
		var flags byte
		if i < len(addedFlags) {
			flags = addedFlags[i]
		}
		out = append(out, core.PeerInfo{
			Addr:  core.Addr{IP: ip, Port: port},
			Flags: flags,
			From:  core.FromPEX,
		})
	}
	return out
}

// SerializePex encodes infos into compact form plus a parallel added_f
// byte array, the inverse of CompactToPex (spec.md §8's round-trip
// property: compactToPex(pex.serialize()) == pex).
func SerializePex(infos []core.PeerInfo) (compact []byte, addedFlags []byte) {
	compact = make([]byte, 0, len(infos)*pexRecordLen)
	addedFlags = make([]byte, 0, len(infos))
	for _, info := range infos {
		var rec [pexRecordLen]byte
		copy(rec[:4], info.Addr.IP[:])
		binary.BigEndian.PutUint16(rec[4:6], info.Addr.Port)
		compact = append(compact, rec[:]...)
		addedFlags = append(addedFlags, info.Flags)
	}
	return compact, addedFlags
}
