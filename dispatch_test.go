package ember

import (
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/ember-bt/ember/conn"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/rechoke"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

// adoptPeer drives a handshake to completion for addr on torrent h and
// returns the fakeMessages pump the manager's messagesFactory produced for
// it (the manager under test must have been built with newFakeMessagesFactory).
func adoptPeer(t *testing.T, m *Manager, h core.InfoHash, addr core.Addr) *fakeMessages {
	t.Helper()
	io := &fakeIO{addr: addr, infoHash: h, hasHash: true}
	peerID, err := core.RandomPeerID()
	require.NoError(t, err)

	m.HandshakeDone(conn.HandshakeResult{
		IO:          io,
		IsConnected: true,
		PeerID:      peerID,
		ClientID:    "-EM0001-abcdefghijkl",
	})

	var msgs *fakeMessages
	err = m.query(func(s *state) {
		tt := s.torrents[h]
		msgs = tt.peers[addr].Messages.(*fakeMessages)
	})
	require.NoError(t, err)
	return msgs
}

// TestSetBlameBansAfterThreeStrikes covers the ban-threshold scenario: a
// peer struck MAX_BAD_PIECES_PER_PEER times via failed-piece blame has its
// atom banned and is marked for purge.
func TestSetBlameBansAfterThreeStrikes(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	m, err := NewManager(Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope, WithClock(c))
	require.NoError(err)
	defer m.Stop()

	meta := &fakeMeta{h: core.NewInfoHashFromBytes([]byte("blame-torrent")), numPieces: 4}
	require.NoError(m.AddTorrent(meta))
	require.NoError(m.StartTorrent(meta.InfoHash()))

	addr := testAddr(t, "10.0.1.1", 6881)
	adoptPeer(t, m, meta.InfoHash(), addr)

	// Mark the peer as having contributed a block to piece 0, then fail it
	// three times via setBlame.
	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		p := tt.peers[addr]
		p.Blame.Add(0)
	})
	require.NoError(err)

	for i := 0; i < 3; i++ {
		require.NoError(m.SetBlame(meta.InfoHash(), 0, false))
	}

	var banned, found bool
	var doPurge bool
	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		a, ok := tt.pool.Get(addr)
		found = ok
		if ok {
			banned = a.Banned()
		}
		doPurge = tt.peers[addr].DoPurge
	})
	require.NoError(err)
	require.True(found)
	require.True(banned)
	require.True(doPurge)
}

// TestSetBlameSuccessDoesNotStrike covers the success path: a successful
// piece verification never strikes any peer.
func TestSetBlameSuccessDoesNotStrike(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	m, err := NewManager(Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope, WithClock(c))
	require.NoError(err)
	defer m.Stop()

	meta := &fakeMeta{h: core.NewInfoHashFromBytes([]byte("blame-ok-torrent")), numPieces: 4}
	require.NoError(m.AddTorrent(meta))
	require.NoError(m.StartTorrent(meta.InfoHash()))

	addr := testAddr(t, "10.0.1.2", 6881)
	adoptPeer(t, m, meta.InfoHash(), addr)

	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		tt.peers[addr].Blame.Add(0)
	})
	require.NoError(err)

	require.NoError(m.SetBlame(meta.InfoHash(), 0, true))

	var strikes int
	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		strikes = tt.peers[addr].Strikes
	})
	require.NoError(err)
	require.Equal(0, strikes)
}

// TestReconnectGlobalRateLimit covers the global per-second promotion
// budget: with 16 torrents each holding one eligible candidate, a single
// reconnect pulse promotes at most MaxConnectionsPerSecond (8) of them.
func TestReconnectGlobalRateLimit(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	m, err := NewManager(Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope, WithClock(c))
	require.NoError(err)
	defer m.Stop()

	const numTorrents = 16
	for i := 0; i < numTorrents; i++ {
		meta := &fakeMeta{
			h:         core.NewInfoHashFromBytes([]byte{byte(i), byte(i + 1)}),
			numPieces: 1,
		}
		require.NoError(m.AddTorrent(meta))
		require.NoError(m.StartTorrent(meta.InfoHash()))

		addr := testAddr(t, "10.1.0.1", 7000+i)
		err := m.query(func(s *state) {
			tt := s.torrents[meta.InfoHash()]
			tt.pool.GetOrAdd(addr, core.FromTracker)
		})
		require.NoError(err)
	}

	err = m.query(func(s *state) {
		s.runReconnectAll()
	})
	require.NoError(err)

	require.Len(hs.opened, 8)
}

// TestClientBlockClearsRequestedAndBroadcastsCancel covers the CLIENT_BLOCK
// path: receipt of a block clears its requested bit and cancels it on every
// connected peer.
func TestClientBlockClearsRequestedAndBroadcastsCancel(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	m, err := NewManager(Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope, WithClock(c))
	require.NoError(err)
	defer m.Stop()

	meta := &fakeMeta{h: core.NewInfoHashFromBytes([]byte("block-torrent")), numPieces: 4}
	require.NoError(m.AddTorrent(meta))
	require.NoError(m.StartTorrent(meta.InfoHash()))

	addrA := testAddr(t, "10.0.2.1", 6881)
	addrB := testAddr(t, "10.0.2.2", 6881)
	msgsA := adoptPeer(t, m, meta.InfoHash(), addrA)
	msgsB := adoptPeer(t, m, meta.InfoHash(), addrB)

	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		tt.requested.Add(1)
	})
	require.NoError(err)

	m.MessageEvent(meta.InfoHash(), addrA, conn.Event{
		Kind:   conn.EventClientBlock,
		Piece:  1,
		Offset: 0,
		Length: 16384,
	})

	var stillRequested, blamed bool
	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		stillRequested = tt.requested.Test(1)
		blamed = tt.peers[addrA].Blame.Test(1)
	})
	require.NoError(err)
	require.False(stillRequested)
	require.True(blamed)
	require.Equal(1, msgsA.cancels)
	require.Equal(1, msgsB.cancels)
}

// TestClientHaveBroadcastsAndNotifiesListener covers the CLIENT_HAVE path:
// every peer receives a have message and the completion listener is asked
// to re-check completeness.
func TestClientHaveBroadcastsAndNotifiesListener(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	notified := make(chan core.InfoHash, 1)
	m, err := NewManager(
		Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope,
		WithClock(c),
		WithCompletionListener(func(h core.InfoHash) { notified <- h }))
	require.NoError(err)
	defer m.Stop()

	meta := &fakeMeta{h: core.NewInfoHashFromBytes([]byte("have-torrent")), numPieces: 4}
	require.NoError(m.AddTorrent(meta))
	require.NoError(m.StartTorrent(meta.InfoHash()))

	addr := testAddr(t, "10.0.3.1", 6881)
	msgs := adoptPeer(t, m, meta.InfoHash(), addr)

	m.MessageEvent(meta.InfoHash(), addr, conn.Event{Kind: conn.EventClientHave, Piece: 2})

	require.Equal(meta.InfoHash(), <-notified)

	var have bool
	err = m.query(func(s *state) {
		have = s.torrents[meta.InfoHash()].have.Test(2)
	})
	require.NoError(err)
	require.True(have)
	require.Equal([]int{2}, msgs.haves)
}

// TestHandshakeDoneClosesIOOnDuplicate covers the refusal path: a second
// handshake for an address that already has a live peer is refused and its
// I/O is closed.
func TestHandshakeDoneClosesIOOnDuplicate(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	m, err := NewManager(Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope, WithClock(c))
	require.NoError(err)
	defer m.Stop()

	meta := &fakeMeta{h: core.NewInfoHashFromBytes([]byte("dup-torrent")), numPieces: 4}
	require.NoError(m.AddTorrent(meta))
	require.NoError(m.StartTorrent(meta.InfoHash()))

	addr := testAddr(t, "10.0.4.1", 6881)
	adoptPeer(t, m, meta.InfoHash(), addr)

	dup := &fakeIO{addr: addr, infoHash: meta.InfoHash(), hasHash: true}
	peerID, err := core.RandomPeerID()
	require.NoError(err)
	m.HandshakeDone(conn.HandshakeResult{
		IO:          dup,
		IsConnected: true,
		PeerID:      peerID,
		ClientID:    "-EM0001-abcdefghijkl",
	})

	var connected int
	err = m.query(func(s *state) {
		connected = len(s.torrents[meta.InfoHash()].peers)
	})
	require.NoError(err)
	require.Equal(1, connected)
	require.True(dup.closed)
}

// TestRechokePulseUnchokesTopTwelve covers the rechoke cap end to end: 20
// interested peers with strictly increasing download rates; the top 12 are
// unchoked, the rest are choked apart from the one optimistic slot.
func TestRechokePulseUnchokesTopTwelve(t *testing.T) {
	require := require.New(t)

	c := clock.NewMock()
	hs := &fakeHandshaker{}
	m, err := NewManager(Config{}, hs, newFakeMessagesFactory(), nil, tally.NoopScope, WithClock(c))
	require.NoError(err)
	defer m.Stop()

	meta := &fakeMeta{h: core.NewInfoHashFromBytes([]byte("rechoke-torrent")), numPieces: 4}
	require.NoError(m.AddTorrent(meta))
	require.NoError(m.StartTorrent(meta.InfoHash()))

	const numPeers = 20
	addrs := make([]core.Addr, numPeers)
	msgs := make([]*fakeMessages, numPeers)
	for i := 0; i < numPeers; i++ {
		addrs[i] = testAddr(t, "10.0.5.1", 6000+i)
		msgs[i] = adoptPeer(t, m, meta.InfoHash(), addrs[i])
	}

	err = m.query(func(s *state) {
		tt := s.torrents[meta.InfoHash()]
		for i, addr := range addrs {
			p := tt.peers[addr]
			p.PeerInterested = true
			p.Rates.AddFromPeer((i + 1) * 16384)
		}
		s.runRechoke(tt)
	})
	require.NoError(err)

	choked := 0
	for i, fm := range msgs {
		require.NotEmpty(fm.chokes, "peer %d received no choke decision", i)
		last := fm.chokes[len(fm.chokes)-1]
		if i >= numPeers-rechoke.MaxUnchokedPeers {
			require.False(last, "peer %d is in the top 12 by rate", i)
		}
		if last {
			choked++
		}
	}
	// 8 losers minus the one optimistic slot.
	require.Equal(numPeers-rechoke.MaxUnchokedPeers-1, choked)

	var optimistic bool
	err = m.query(func(s *state) {
		optimistic = s.torrents[meta.InfoHash()].optimistic != nil
	})
	require.NoError(err)
	require.True(optimistic)
}
