package ember

import (
	"math/rand"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/ember-bt/ember/atom"
	"github.com/ember-bt/ember/bitfield"
	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/internal/syncutil"
	"github.com/ember-bt/ember/internal/timeutil"
	"github.com/ember-bt/ember/peer"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Torrent is the manager's per-torrent state: the atom pool, live peers,
// outgoing handshakes, and the request/have bitfields, per spec.md §3's
// "Torrent (manager-side)" data model.
type Torrent struct {
	Meta core.TorrentMeta

	pool     *atom.Pool
	peers    map[core.Addr]*peer.Peer
	outgoing map[core.Addr]*conn.PendingConn

	// requested is flat over all blocks in the torrent (meta.BlockIndex
	// maps (piece, blockInPiece) to an index into it). have is flat over
	// pieces.
	requested       *bitfield.Bitfield
	have            *bitfield.Bitfield
	numPeersByPiece *syncutil.Counters

	optimistic *peer.Peer

	// isRunning gates this torrent's participation in the manager's
	// shared rechoke/reconnect tickers. It is an atomic.Bool rather than
	// a plain field, grounded on the teacher's conn.Conn.closed field
	// (lib/torrent/scheduler/conn/conn.go), because the refill timer pump
	// goroutine reads it outside the event loop to decide whether to keep
	// pumping, without round-tripping through an event.
	isRunning atomic.Bool

	refillTimer    *timeutil.Timer
	stopRefillPump chan struct{}

	rng *rand.Rand
	clk clock.Clock

	log *zap.SugaredLogger
}

func newTorrent(meta core.TorrentMeta, clk clock.Clock, pullDelay time.Duration, logger *zap.SugaredLogger) *Torrent {
	numPieces := meta.NumPieces()
	numBlocks := 0
	for i := 0; i < numPieces; i++ {
		numBlocks += meta.NumBlocks(i)
	}
	return &Torrent{
		Meta:            meta,
		pool:            atom.NewPool(),
		peers:           make(map[core.Addr]*peer.Peer),
		outgoing:        make(map[core.Addr]*conn.PendingConn),
		requested:       bitfield.New(uint(numBlocks)),
		have:            bitfield.New(uint(numPieces)),
		numPeersByPiece: syncutil.NewCounters(numPieces),
		refillTimer:     timeutil.NewTimer(clk, pullDelay),
		rng:             rand.New(rand.NewSource(clk.Now().UnixNano())),
		clk:             clk,
		log:             logger.With("infohash", meta.InfoHash()),
	}
}

func (t *Torrent) infoHash() core.InfoHash {
	return t.Meta.InfoHash()
}

// isSeed reports whether we have every piece of this torrent.
func (t *Torrent) isSeed() bool {
	return t.have.Complete()
}

// inUse reports whether addr is already a live peer or a pending outgoing
// handshake for this torrent.
func (t *Torrent) inUse(addr core.Addr) bool {
	if _, ok := t.peers[addr]; ok {
		return true
	}
	_, ok := t.outgoing[addr]
	return ok
}

// removePeer closes addr's message pump, removes it from peers, backs out
// its contribution to numPeersByPiece so rarest-first ranking does not keep
// counting a peer that is no longer connected, and stamps the atom's time
// to now so its reconnect cooldown is computed from the moment it was
// actually dropped.
func (t *Torrent) removePeer(addr core.Addr) {
	p, ok := t.peers[addr]
	if !ok {
		return
	}
	p.Messages.Close()
	p.IO.Close()
	delete(t.peers, addr)
	if t.optimistic == p {
		t.optimistic = nil
	}
	for _, i := range p.Have.Indices() {
		t.numPeersByPiece.Decrement(int(i))
	}
	if a, ok := t.pool.Get(addr); ok {
		a.Time = t.clk.Now()
	}
	t.log.Infow("Closed peer connection", "addr", addr)
}

// armRefill arms the on-demand refill timer if it is not already pending,
// per spec.md §4.2: "scheduled only when a peer emits a NEED-REQ event and
// no refill timer is already armed". Skipped for seeds.
func (t *Torrent) armRefill() {
	if t.isSeed() {
		return
	}
	t.refillTimer.Start()
}

// startRefillPump starts the goroutine that bridges the torrent's
// refillTimer into refillTickEvents on the manager's event loop. Mirrors
// the teacher's tickerLoop, scoped to one torrent instead of one
// scheduler, since refill scheduling is intrinsically per-torrent state.
func (t *Torrent) startRefillPump(l *liftedEventLoop) {
	t.stopRefillPump = make(chan struct{})
	stop := t.stopRefillPump
	h := t.infoHash()
	go func() {
		for {
			select {
			case <-t.refillTimer.C:
				if !t.isRunning.Load() {
					return
				}
				l.RefillTick(h)
			case <-stop:
				return
			}
		}
	}()
}

// teardownRefillPump stops the refill pump goroutine and cancels any
// pending timer, called when a torrent stops.
func (t *Torrent) teardownRefillPump() {
	if t.stopRefillPump != nil {
		close(t.stopRefillPump)
		t.stopRefillPump = nil
	}
	t.refillTimer.Cancel()
}
