package ember

import (
	"time"

	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/peer"
	"github.com/ember-bt/ember/rechoke"
	"github.com/ember-bt/ember/reconnect"
	"github.com/ember-bt/ember/refill"
)

// handleMessageEvent dispatches one message-layer event to its handler,
// per the table in spec.md §4.6.
func (s *state) handleMessageEvent(h core.InfoHash, addr core.Addr, e conn.Event) {
	t, ok := s.torrents[h]
	if !ok {
		return
	}
	p, ok := t.peers[addr]
	if !ok {
		return
	}

	switch e.Kind {
	case conn.EventNeedRequest:
		t.armRefill()

	case conn.EventCancel:
		idx := t.Meta.BlockIndex(e.Piece, e.Offset)
		delete(p.InFlight, refill.Block{Piece: e.Piece, Index: idx})
		t.requested.Remove(uint(idx))

	case conn.EventPieceData:
		p.LastPieceDataActivity = t.clk.Now()
		if e.Outgoing {
			p.Rates.AddToPeer(e.Length)
		} else {
			p.Rates.AddFromPeer(e.Length)
		}
		if a, ok := t.pool.Get(addr); ok {
			a.PieceDataTime = p.LastPieceDataActivity
		}

	case conn.EventClientHave:
		t.have.Add(uint(e.Piece))
		for _, other := range t.peers {
			other.Messages.Have(e.Piece)
		}
		if s.mgr.completionListener != nil {
			s.mgr.completionListener(h)
		}

	case conn.EventPeerHave:
		if !p.Have.Test(uint(e.Piece)) {
			p.Have.Add(uint(e.Piece))
			t.numPeersByPiece.Increment(e.Piece)
		}

	case conn.EventPeerProgress:
		p.Progress = e.Progress
		if a, ok := t.pool.Get(addr); ok {
			if e.Progress >= 1.0 {
				a.Flags |= core.SeedFlag
			} else {
				a.Flags &^= core.SeedFlag
			}
		}

	case conn.EventClientBlock:
		idx := t.Meta.BlockIndex(e.Piece, e.Offset)
		blk := refill.Block{Piece: e.Piece, Index: idx}
		p.Blame.Add(uint(e.Piece))
		t.requested.Remove(uint(idx))
		for _, other := range t.peers {
			delete(other.InFlight, blk)
			other.Messages.Cancel(e.Piece, e.Offset, e.Length)
		}

	case conn.EventIOError:
		s.mgr.logger.Infow("Torrent I/O error, stopping", "infohash", h, "err", e.Err)
		s.teardownTorrent(t)

	case conn.EventAssertError:
		s.strike(t, addr, p)
	}
}

// runRefill applies the refill pulse to torrent h, per spec.md §4.2.
func (s *state) runRefill(h core.InfoHash) {
	t, ok := s.torrents[h]
	if !ok || !t.isRunning.Load() || t.isSeed() {
		return
	}

	ranked := refill.RankPieces(t.Meta, t.have, t.requested, t.numPeersByPiece, t.rng)
	blocks := refill.SortBlocks(t.Meta, t.have, t.requested, ranked)
	if len(blocks) == 0 {
		return
	}

	var probers []refill.Prober
	for _, p := range t.peers {
		if p.ClientInterested && !p.ClientChoked {
			probers = append(probers, &peerProber{p})
		}
	}
	if len(probers) == 0 {
		return
	}

	refill.Dispatch(probers, blocks, t.requested, t.rng)
	s.mgr.stats.Tagged(map[string]string{"module": "refill"}).Counter("blocks_considered").Inc(int64(len(blocks)))
}

// peerProber adapts a live peer to refill.Prober, per spec.md §4.2's
// dispatch probe taxonomy (OK/DUPLICATE/MISSING/CLIENT_CHOKED/FULL).
type peerProber struct {
	p *peer.Peer
}

func (pp *peerProber) Probe(blk refill.Block) refill.ProbeResult {
	p := pp.p
	if p.ClientChoked {
		return refill.ProbeClientChoked
	}
	if !p.Have.Test(uint(blk.Piece)) {
		return refill.ProbeMissing
	}
	if p.InFlight[blk] {
		return refill.ProbeDuplicate
	}
	if len(p.InFlight) >= peer.MaxInFlightRequests {
		return refill.ProbeFull
	}
	if err := p.Messages.AddRequest(blk.Piece, blk.Index); err != nil {
		return refill.ProbeMissing
	}
	p.InFlight[blk] = true
	return refill.ProbeOK
}

// runRechokeAll applies the rechoke pulse to every running torrent, per
// spec.md §4.3. All running torrents share one wall-clock tick rather
// than each owning its own ticker goroutine (see torrent.go's isRunning
// doc comment); the rechoke computation itself is still entirely
// per-torrent.
func (s *state) runRechokeAll() {
	for _, t := range s.torrents {
		if t.isRunning.Load() {
			s.runRechoke(t)
		}
	}
}

func (s *state) runRechoke(t *Torrent) {
	candidates := make([]rechoke.Candidate, 0, len(t.peers))
	for addr, p := range t.peers {
		p.Rates.Sample(s.mgr.config.RechokeInterval)
		candidates = append(candidates, rechoke.Candidate{
			ID:           addr,
			Seeding:      p.Progress >= 1.0,
			WeCanSeed:    t.isSeed(),
			UploadRate:   p.Rates.ToPeer,
			DownloadRate: p.Rates.FromPeer,
			Interested:   p.PeerInterested,
			IOAge:        p.IO.Age(),
			SameClient:   rechoke.SameClient(p.ClientID, s.mgr.config.ClientIDMarker),
		})
	}

	decisions := rechoke.Run(candidates, t.rng)

	if t.optimistic != nil {
		t.optimistic.IsOptimistic = false
	}
	t.optimistic = nil

	unchoked := 0
	for _, d := range decisions {
		addr := d.ID.(core.Addr)
		p, ok := t.peers[addr]
		if !ok {
			continue
		}
		p.PeerChoked = !d.Unchoke
		p.IsOptimistic = d.Optimistic
		if d.Optimistic {
			t.optimistic = p
		}
		if d.Unchoke {
			unchoked++
		}
		p.Messages.SetChoke(!d.Unchoke)
	}
	if t.optimistic != nil {
		t.log.Debugw("Applied rechoke", "unchoked", unchoked, "peers", len(t.peers), "optimistic", t.optimistic.Addr)
	} else {
		t.log.Debugw("Applied rechoke", "unchoked", unchoked, "peers", len(t.peers))
	}
	s.mgr.stats.Tagged(map[string]string{"module": "rechoke"}).Gauge("unchoked").Update(float64(unchoked))
}

// runReconnectAll applies the reconnect pulse to every running torrent,
// per spec.md §4.4.
func (s *state) runReconnectAll() {
	now := s.mgr.clk.Now()
	for _, t := range s.torrents {
		s.runReconnect(t, now)
	}
}

func (s *state) runReconnect(t *Torrent, now time.Time) {
	if !t.isRunning.Load() {
		for addr := range t.peers {
			t.removePeer(addr)
		}
		return
	}

	idleLimit := reconnect.IdleLimit(len(t.peers), s.mgr.config.MaxOpenConnectionsPerTorrent)
	for addr, p := range t.peers {
		lp := reconnect.LivePeer{
			Addr:          addr,
			DoPurge:       p.DoPurge,
			IsSeed:        p.IsSeed(),
			PEXDisabled:   !t.Meta.PexEnabled(),
			LastPieceData: p.LastPieceDataActivity,
		}
		var atomTime time.Time
		if a, ok := t.pool.Get(addr); ok {
			atomTime = a.Time
		}
		if reconnect.ShouldClose(lp, t.isSeed(), atomTime, now, idleLimit) {
			everTransferred := !p.LastPieceDataActivity.IsZero()
			t.removePeer(addr)
			if a, ok := t.pool.Get(addr); ok {
				reconnect.OnPeerClosed(a, everTransferred)
			}
		}
	}

	inUse := func(a core.Addr) bool { return t.inUse(a) }
	blocked := func(a core.Addr) bool {
		return s.mgr.blocklist != nil && s.mgr.blocklist.Blocked(a)
	}
	candidates := reconnect.SelectCandidates(t.pool, t.isSeed(), now, inUse, blocked)

	promotions := 0
	for _, a := range candidates {
		if promotions >= reconnect.MaxReconnectionsPerPulse {
			break
		}
		if !s.budget.Take(now) {
			break
		}
		a.Time = now
		pc, err := s.mgr.handshaker.Open(a.Addr, t.infoHash())
		if err != nil {
			t.log.Infow("Marking atom unreachable", "addr", a.Addr, "err", err)
			a.SetUnreachable(true)
			continue
		}
		t.log.Infow("Opened outgoing handshake", "addr", a.Addr)
		t.outgoing[a.Addr] = pc
		promotions++
	}
	if promotions > 0 {
		s.mgr.stats.Tagged(map[string]string{"module": "reconnect"}).Counter("promotions").Inc(int64(promotions))
	}
}
