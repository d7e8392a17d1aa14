package ember

import (
	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/peer"
)

// handshakeDone implements spec.md §4.5: resolve the torrent via the
// handshake result's infohash, remove the handshake from whichever set
// holds it, then either bump the atom's failure count or adopt the new
// peer.
func (s *state) handshakeDone(r conn.HandshakeResult) {
	addr := r.IO.Addr()
	h, hasHash := r.IO.InfoHash()

	// Remove from whichever set holds this attempt. Incoming attempts
	// that never learned an infohash only ever lived in the manager-global
	// incoming set.
	delete(s.incoming, addr)
	var t *Torrent
	if hasHash {
		t = s.torrents[h]
		if t != nil {
			delete(t.outgoing, addr)
		}
	}

	if !r.IsConnected || t == nil || !t.isRunning.Load() {
		r.IO.Close()
		if t != nil {
			if a, ok := t.pool.Get(addr); ok {
				a.NumFails++
			}
		}
		return
	}

	a := t.pool.GetOrAdd(addr, core.FromIncoming)
	if a.Banned() {
		s.mgr.logger.Infow("Refusing handshake", "addr", addr, "infohash", t.infoHash(), "reason", ErrAtomBanned)
		r.IO.Close()
		return
	}
	if len(t.peers) >= s.mgr.config.MaxOpenConnectionsPerTorrent {
		s.mgr.logger.Infow("Refusing handshake", "addr", addr, "infohash", t.infoHash(), "reason", ErrTorrentAtCapacity)
		r.IO.Close()
		return
	}
	if _, exists := t.peers[addr]; exists {
		s.mgr.logger.Infow("Refusing handshake", "addr", addr, "infohash", t.infoHash(), "reason", ErrPeerExists)
		r.IO.Close()
		return
	}

	messages := s.mgr.messagesFactory(r.IO)
	p := peer.New(addr, r.PeerID, r.ClientID, r.IO, messages, t.Meta.NumPieces())
	p.Encrypted = r.IO.Encrypted()
	p.FromPEX = a.From == core.FromPEX
	t.peers[addr] = p
	a.Time = t.clk.Now()

	s.startMessagePump(h, p)

	s.mgr.stats.Tagged(map[string]string{"module": "handshake"}).Counter("peers_added").Inc(1)
}

// startMessagePump forwards p's message-layer events into the manager's
// event loop, per spec.md §4.5's "instantiate a message-layer subscriber
// wired to this torrent's callback."
func (s *state) startMessagePump(h core.InfoHash, p *peer.Peer) {
	addr := p.Addr
	events := p.Messages.Events()
	l := s.mgr.eventLoop
	go func() {
		for e := range events {
			l.MessageEvent(h, addr, e)
		}
	}()
}
