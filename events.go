package ember

import (
	"time"

	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
)

// event describes an external occurrence which modifies state. While an
// event is applying, it is guaranteed to be the only accessor of state --
// this is the "global lock" of spec.md §5, implemented as a single-actor
// event loop rather than an explicit mutex (per the Design Notes'
// single-actor alternative).
type event interface {
	apply(*state)
}

// eventLoop represents a serialized list of events to be applied to
// manager state, lifted directly from the teacher's scheduler/events.go.
type eventLoop interface {
	send(event) bool
	sendTimeout(e event, timeout time.Duration) error
	run(*state)
	stop()
}

type baseEventLoop struct {
	events chan event
	done   chan struct{}
}

func newEventLoop() *baseEventLoop {
	return &baseEventLoop{
		events: make(chan event),
		done:   make(chan struct{}),
	}
}

// send sends a new event into l. Must never be called by the goroutine
// running l, else deadlock will occur. Returns false if l is not running.
func (l *baseEventLoop) send(e event) bool {
	select {
	case l.events <- e:
		return true
	case <-l.done:
		return false
	}
}

func (l *baseEventLoop) sendTimeout(e event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l.events <- e:
		return nil
	case <-l.done:
		return ErrManagerStopped
	case <-timer.C:
		return ErrSendEventTimedOut
	}
}

func (l *baseEventLoop) run(s *state) {
	for {
		select {
		case e := <-l.events:
			e.apply(s)
		case <-l.done:
			return
		}
	}
}

func (l *baseEventLoop) stop() {
	close(l.done)
}

// liftedEventLoop lifts callbacks from goroutines outside the loop --
// timer pumps, the handshake layer, message-layer pumps -- into events
// applied on the loop.
type liftedEventLoop struct {
	eventLoop
}

func liftEventLoop(l eventLoop) *liftedEventLoop {
	return &liftedEventLoop{l}
}

// HandshakeDone is the handshake-completion callback of spec.md §4.5.
func (l *liftedEventLoop) HandshakeDone(r conn.HandshakeResult) {
	l.send(handshakeDoneEvent{r})
}

// MessageEvent delivers one message-layer occurrence for (h, addr), per
// spec.md §4.6.
func (l *liftedEventLoop) MessageEvent(h core.InfoHash, addr core.Addr, e conn.Event) {
	l.send(messageEvent{h, addr, e})
}

func (l *liftedEventLoop) RefillTick(h core.InfoHash) {
	l.send(refillTickEvent{h})
}

func (l *liftedEventLoop) RechokeTick() {
	l.send(rechokeTickEvent{})
}

func (l *liftedEventLoop) ReconnectTick() {
	l.send(reconnectTickEvent{})
}

// addTorrentEvent adds a new torrent to the manager, per spec.md §6
// addTorrent.
type addTorrentEvent struct {
	meta core.TorrentMeta
	errc chan error
}

func (e addTorrentEvent) apply(s *state) {
	e.errc <- s.addTorrent(e.meta)
}

// removeTorrentEvent tears down a torrent entirely: peers, outgoing
// handshakes, and the atom pool.
type removeTorrentEvent struct {
	h    core.InfoHash
	errc chan error
}

func (e removeTorrentEvent) apply(s *state) {
	e.errc <- s.removeTorrent(e.h)
}

// startTorrentEvent marks a torrent running, arming its participation in
// the shared rechoke/reconnect pulses.
type startTorrentEvent struct {
	h    core.InfoHash
	errc chan error
}

func (e startTorrentEvent) apply(s *state) {
	e.errc <- s.startTorrent(e.h)
}

// stopTorrentEvent tears down peers and outgoing handshakes but keeps the
// atom pool, per spec.md §5's cancellation semantics.
type stopTorrentEvent struct {
	h    core.InfoHash
	errc chan error
}

func (e stopTorrentEvent) apply(s *state) {
	e.errc <- s.stopTorrent(e.h)
}

// addIncomingEvent attaches an accepted connection to the manager-global
// incoming-handshake set, per spec.md §6 addIncoming.
type addIncomingEvent struct {
	pc   *conn.PendingConn
	errc chan error
}

func (e addIncomingEvent) apply(s *state) {
	e.errc <- s.addIncoming(e.pc)
}

// addPexEvent ensures atoms exist for a batch of PEX-discovered peers, per
// spec.md §6 addPex.
type addPexEvent struct {
	h     core.InfoHash
	from  core.From
	infos []core.PeerInfo
	errc  chan error
}

func (e addPexEvent) apply(s *state) {
	e.errc <- s.addPex(e.h, e.from, e.infos)
}

// setBlameEvent reports a piece's hash-verification result, per spec.md
// §4.6 blame.
type setBlameEvent struct {
	h       core.InfoHash
	piece   int
	success bool
	errc    chan error
}

func (e setBlameEvent) apply(s *state) {
	e.errc <- s.setBlame(e.h, e.piece, e.success)
}

// handshakeDoneEvent resolves one handshake attempt, per spec.md §4.5.
type handshakeDoneEvent struct {
	result conn.HandshakeResult
}

func (e handshakeDoneEvent) apply(s *state) {
	s.handshakeDone(e.result)
}

// messageEvent delivers one message-layer event, per spec.md §4.6.
type messageEvent struct {
	h    core.InfoHash
	addr core.Addr
	e    conn.Event
}

func (e messageEvent) apply(s *state) {
	s.handleMessageEvent(e.h, e.addr, e.e)
}

// refillTickEvent fires when a torrent's on-demand refill timer elapses.
type refillTickEvent struct {
	h core.InfoHash
}

func (e refillTickEvent) apply(s *state) {
	s.runRefill(e.h)
}

// rechokeTickEvent fires on the manager's shared rechoke ticker and
// applies the rechoke pulse to every running torrent.
type rechokeTickEvent struct{}

func (e rechokeTickEvent) apply(s *state) {
	s.runRechokeAll()
}

// reconnectTickEvent fires on the manager's shared reconnect ticker and
// applies the reconnect pulse to every running torrent.
type reconnectTickEvent struct{}

func (e reconnectTickEvent) apply(s *state) {
	s.runReconnectAll()
}

// statQueryEvent runs a read-only closure against state and returns its
// result, used by every read-side public method (TorrentStats, PeerStats,
// GetAvailable, ...). Routing reads through the loop too preserves the
// ordering guarantee of spec.md §5: "a handshake-done callback always
// runs to completion before another manager operation on the same
// torrent."
type statQueryEvent struct {
	fn func(*state)
}

func (e statQueryEvent) apply(s *state) {
	e.fn(s)
}
