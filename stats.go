package ember

import (
	"sort"

	"github.com/ember-bt/ember/allowedset"
	"github.com/ember-bt/ember/bitfield"
	"github.com/ember-bt/ember/core"
)

// TorrentStats aggregates per-torrent counts, per spec.md §6 torrentStats:
// "known/connected/sending/receiving/from-bucket".
type TorrentStats struct {
	Known      int
	Connected  int
	Sending    int // interested peers we are currently unchoking.
	Receiving  int // peers currently unchoking us that we are interested in.
	FromTracker int
	FromPEX     int
	FromCache   int
	FromIncoming int
	FromResume   int
}

// PeerStats is one peer's reported identity plus its flag string, per
// spec.md §6 peerStats.
type PeerStats struct {
	Addr     core.Addr
	ID       core.PeerID
	ClientID string
	Flags    string
}

// torrentStats computes spec.md §6's torrentStats for h.
func (s *state) torrentStats(h core.InfoHash) (TorrentStats, error) {
	t, ok := s.torrents[h]
	if !ok {
		return TorrentStats{}, ErrTorrentNotFound
	}
	var st TorrentStats
	st.Known = t.pool.Len()
	st.Connected = len(t.peers)
	for _, p := range t.peers {
		if !p.PeerChoked && p.PeerInterested {
			st.Sending++
		}
		if !p.ClientChoked && p.ClientInterested {
			st.Receiving++
		}
	}
	for _, a := range t.pool.Slice() {
		switch a.From {
		case core.FromTracker:
			st.FromTracker++
		case core.FromPEX:
			st.FromPEX++
		case core.FromCache:
			st.FromCache++
		case core.FromIncoming:
			st.FromIncoming++
		case core.FromResume:
			st.FromResume++
		}
	}
	return st, nil
}

// peerStats returns every connected peer's stat record, per spec.md §6
// peerStats.
func (s *state) peerStats(h core.InfoHash) ([]PeerStats, error) {
	t, ok := s.torrents[h]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	addrs := make([]core.Addr, 0, len(t.peers))
	for addr := range t.peers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].LessThan(addrs[j]) })

	out := make([]PeerStats, 0, len(addrs))
	for _, addr := range addrs {
		p := t.peers[addr]
		out = append(out, PeerStats{
			Addr:     addr,
			ID:       p.ID,
			ClientID: p.ClientID,
			Flags:    p.StatFlags(),
		})
	}
	return out, nil
}

// peerIsSeed reports whether the peer at addr on torrent h claims to have
// every piece.
func (s *state) peerIsSeed(h core.InfoHash, addr core.Addr) (bool, error) {
	t, ok := s.torrents[h]
	if !ok {
		return false, ErrTorrentNotFound
	}
	p, ok := t.peers[addr]
	if !ok {
		return false, ErrTorrentNotFound
	}
	return p.IsSeed(), nil
}

// hasConnections reports whether h has any live peer.
func (s *state) hasConnections(h core.InfoHash) (bool, error) {
	t, ok := s.torrents[h]
	if !ok {
		return false, ErrTorrentNotFound
	}
	return len(t.peers) > 0, nil
}

// getAvailable computes the OR of every connected peer's have-bitfield,
// per spec.md §6 getAvailable.
func (s *state) getAvailable(h core.InfoHash) (*bitfield.Bitfield, error) {
	t, ok := s.torrents[h]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	avail := bitfield.New(uint(t.Meta.NumPieces()))
	for _, p := range t.peers {
		avail.UnionInto(p.Have)
	}
	return avail, nil
}

// torrentAvailability buckets piece availability into tabCount buckets of
// consecutive pieces, each bucket summing, over every connected peer, how
// many pieces in its range that peer has, per spec.md §6
// torrentAvailability.
func (s *state) torrentAvailability(h core.InfoHash, tabCount int) ([]int, error) {
	t, ok := s.torrents[h]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	if tabCount <= 0 {
		return nil, nil
	}
	numPieces := t.Meta.NumPieces()
	tab := make([]int, tabCount)
	if numPieces == 0 {
		return tab, nil
	}
	piecesPerBucket := (numPieces + tabCount - 1) / tabCount
	for _, p := range t.peers {
		for _, i := range p.Have.Indices() {
			bucket := int(i) / piecesPerBucket
			if bucket >= tabCount {
				bucket = tabCount - 1
			}
			tab[bucket]++
		}
	}
	return tab, nil
}

// getPeers returns every connected peer's address/flags as a sorted PEX
// array, per spec.md §6 getPeers.
func (s *state) getPeers(h core.InfoHash) ([]core.PeerInfo, error) {
	t, ok := s.torrents[h]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	addrs := make([]core.Addr, 0, len(t.peers))
	for addr := range t.peers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].LessThan(addrs[j]) })

	out := make([]core.PeerInfo, 0, len(addrs))
	for _, addr := range addrs {
		p := t.peers[addr]
		flags := byte(0)
		if p.Encrypted {
			flags |= core.EncryptionFlag
		}
		if p.IsSeed() {
			flags |= core.SeedFlag
		}
		out = append(out, core.PeerInfo{Addr: addr, Flags: flags})
	}
	return out, nil
}

// TorrentStats returns h's torrentStats, per spec.md §6.
func (m *Manager) TorrentStats(h core.InfoHash) (TorrentStats, error) {
	var st TorrentStats
	var rerr error
	err := m.query(func(s *state) { st, rerr = s.torrentStats(h) })
	if err != nil {
		return TorrentStats{}, err
	}
	return st, rerr
}

// PeerStats returns every connected peer's stat record for h, per spec.md
// §6 peerStats.
func (m *Manager) PeerStats(h core.InfoHash) ([]PeerStats, error) {
	var ps []PeerStats
	var rerr error
	err := m.query(func(s *state) { ps, rerr = s.peerStats(h) })
	if err != nil {
		return nil, err
	}
	return ps, rerr
}

// PeerIsSeed reports whether the peer at addr on torrent h claims to have
// every piece, per spec.md §6.
func (m *Manager) PeerIsSeed(h core.InfoHash, addr core.Addr) (bool, error) {
	var ok bool
	var rerr error
	err := m.query(func(s *state) { ok, rerr = s.peerIsSeed(h, addr) })
	if err != nil {
		return false, err
	}
	return ok, rerr
}

// HasConnections reports whether h has any live peer, per spec.md §6.
func (m *Manager) HasConnections(h core.InfoHash) (bool, error) {
	var ok bool
	var rerr error
	err := m.query(func(s *state) { ok, rerr = s.hasConnections(h) })
	if err != nil {
		return false, err
	}
	return ok, rerr
}

// GetAvailable returns the OR of every connected peer's have-bitfield for
// h, per spec.md §6 getAvailable.
func (m *Manager) GetAvailable(h core.InfoHash) (*bitfield.Bitfield, error) {
	var avail *bitfield.Bitfield
	var rerr error
	err := m.query(func(s *state) { avail, rerr = s.getAvailable(h) })
	if err != nil {
		return nil, err
	}
	return avail, rerr
}

// TorrentAvailability buckets piece availability for h into tabCount
// buckets, per spec.md §6 torrentAvailability.
func (m *Manager) TorrentAvailability(h core.InfoHash, tabCount int) ([]int, error) {
	var tab []int
	var rerr error
	err := m.query(func(s *state) { tab, rerr = s.torrentAvailability(h, tabCount) })
	if err != nil {
		return nil, err
	}
	return tab, rerr
}

// GetPeers returns every connected peer on h as a sorted PEX array, per
// spec.md §6 getPeers.
func (m *Manager) GetPeers(h core.InfoHash) ([]core.PeerInfo, error) {
	var peers []core.PeerInfo
	var rerr error
	err := m.query(func(s *state) { peers, rerr = s.getPeers(h) })
	if err != nil {
		return nil, err
	}
	return peers, rerr
}

// GenerateAllowedSet computes the fast-extension allowed set of size k for
// a peer at peerAddr on a torrent of sz pieces, per spec.md §4.1. This is a
// pure function of its arguments -- it touches no manager state, so unlike
// every other method here it does not round-trip through the event loop.
func (m *Manager) GenerateAllowedSet(k, sz int, h core.InfoHash, peerAddr core.Addr) *bitfield.Bitfield {
	return allowedset.Generate(k, sz, h, peerAddr)
}
