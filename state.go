package ember

import (
	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/peer"
	"github.com/ember-bt/ember/reconnect"
)

// maxBadPiecesPerPeer is MAX_BAD_PIECES_PER_PEER from spec.md §4.6/§7: a
// peer's strike count reaching this threshold bans its atom.
const maxBadPiecesPerPeer = 3

// state is a superset of Manager holding the protected state that may
// only be accessed from the event loop goroutine. state is free to read
// Manager's immutable collaborators (handshaker, blocklist, config,
// clock, stats, logger); Manager has no reference back to state.
type state struct {
	mgr *Manager

	torrents map[core.InfoHash]*Torrent
	// incoming is the manager-global incoming-handshake set, keyed by
	// address -- shared across torrents because the destination infohash
	// is not yet known (spec.md §3 Manager).
	incoming map[core.Addr]*conn.PendingConn

	// budget is the global per-second connection-promotion budget shared
	// across every torrent's reconnect pulse (spec.md §4.4).
	budget *reconnect.Budget
}

func newState(mgr *Manager) *state {
	return &state{
		mgr:      mgr,
		torrents: make(map[core.InfoHash]*Torrent),
		incoming: make(map[core.Addr]*conn.PendingConn),
		budget:   reconnect.NewBudget(),
	}
}

func (s *state) addTorrent(meta core.TorrentMeta) error {
	h := meta.InfoHash()
	if _, ok := s.torrents[h]; ok {
		return ErrTorrentExists
	}
	t := newTorrent(meta, s.mgr.clk, s.mgr.config.RefillPullDelay, s.mgr.logger)
	s.torrents[h] = t
	s.mgr.stats.Tagged(map[string]string{"module": "atompool"}).Gauge("torrents").Update(float64(len(s.torrents)))
	return nil
}

// removeTorrent tears down a torrent entirely, including its atom pool.
func (s *state) removeTorrent(h core.InfoHash) error {
	t, ok := s.torrents[h]
	if !ok {
		return ErrTorrentNotFound
	}
	s.teardownTorrent(t)
	t.pool.Clear()
	delete(s.torrents, h)
	return nil
}

func (s *state) startTorrent(h core.InfoHash) error {
	t, ok := s.torrents[h]
	if !ok {
		return ErrTorrentNotFound
	}
	if t.isRunning.Load() {
		return nil
	}
	t.isRunning.Store(true)
	t.startRefillPump(s.mgr.eventLoop)
	return nil
}

// stopTorrent tears down peers and outgoing handshakes but keeps the atom
// pool, per spec.md §5: "Incoming handshakes survive torrent stop because
// their destination torrent is not yet known."
func (s *state) stopTorrent(h core.InfoHash) error {
	t, ok := s.torrents[h]
	if !ok {
		return ErrTorrentNotFound
	}
	s.teardownTorrent(t)
	return nil
}

func (s *state) teardownTorrent(t *Torrent) {
	if !t.isRunning.Load() {
		return
	}
	t.isRunning.Store(false)
	t.teardownRefillPump()

	for addr, pc := range t.outgoing {
		s.mgr.handshaker.Abort(pc)
		delete(t.outgoing, addr)
	}
	for addr := range t.peers {
		t.removePeer(addr)
	}
}

// addIncoming attaches an accepted connection to the manager-global
// incoming-handshake set, per spec.md §6 addIncoming: refused if the
// address is blocklisted or already mid-handshake.
func (s *state) addIncoming(pc *conn.PendingConn) error {
	if s.mgr.blocklist != nil && s.mgr.blocklist.Blocked(pc.Addr) {
		return ErrBlocked
	}
	if _, ok := s.incoming[pc.Addr]; ok {
		return ErrAlreadyHandshaking
	}
	s.incoming[pc.Addr] = pc
	return nil
}

// addPex ensures atoms exist for every PEX-discovered peer not already
// blocklisted, per spec.md §6 addPex.
func (s *state) addPex(h core.InfoHash, from core.From, infos []core.PeerInfo) error {
	t, ok := s.torrents[h]
	if !ok {
		return ErrTorrentNotFound
	}
	for _, info := range infos {
		if s.mgr.blocklist != nil && s.mgr.blocklist.Blocked(info.Addr) {
			continue
		}
		if _, seen := t.pool.Get(info.Addr); !seen {
			t.log.Debugw("New atom", "addr", info.Addr, "from", from)
		}
		a := t.pool.GetOrAdd(info.Addr, from)
		a.Flags = info.Flags
	}
	return nil
}

// setBlame implements spec.md §4.6's blame pipeline: every connected peer
// whose blame-bitfield contains the failed piece receives a strike; a
// strike count reaching MAX_BAD_PIECES_PER_PEER bans the atom and marks
// the peer doPurge.
func (s *state) setBlame(h core.InfoHash, piece int, success bool) error {
	t, ok := s.torrents[h]
	if !ok {
		return ErrTorrentNotFound
	}
	if success {
		return nil
	}
	for addr, p := range t.peers {
		if !p.Blame.Test(uint(piece)) {
			continue
		}
		s.strike(t, addr, p)
	}
	return nil
}

// strike adds a strike to p and bans its atom once the strike count
// reaches maxBadPiecesPerPeer, per spec.md §4.6/§7. Preserves the source's
// pragmatic conflation of protocol-assert strikes with blame strikes (see
// SPEC_FULL.md §9).
func (s *state) strike(t *Torrent, addr core.Addr, p *peer.Peer) {
	if p.Strike() < maxBadPiecesPerPeer {
		return
	}
	if a, ok := t.pool.Get(addr); ok {
		a.SetBanned(true)
	}
	p.DoPurge = true
	s.mgr.logger.Infow("Peer banned after repeated strikes", "addr", addr, "infohash", t.infoHash())
	s.mgr.stats.Tagged(map[string]string{"module": "handshake"}).Counter("atoms_banned").Inc(1)
}

// torrentOrNil looks up a torrent without an error wrapper, used by
// read-side helpers in stats.go.
func (s *state) torrentOrNil(h core.InfoHash) *Torrent {
	return s.torrents[h]
}
