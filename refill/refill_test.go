package refill

import (
	"math/rand"
	"testing"

	"github.com/ember-bt/ember/bitfield"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/internal/syncutil"
	"github.com/stretchr/testify/require"
)

// fakeMeta implements core.TorrentMeta for testing. Every piece has exactly
// one block, equal to the piece index.
type fakeMeta struct {
	numPieces int
	doNot     map[int]bool
}

func (m *fakeMeta) InfoHash() core.InfoHash        { return core.InfoHash{} }
func (m *fakeMeta) NumPieces() int                 { return m.numPieces }
func (m *fakeMeta) NumBlocks(piece int) int         { return 1 }
func (m *fakeMeta) BlockIndex(piece, block int) int { return piece }
func (m *fakeMeta) Priority(piece int) core.Priority {
	return core.PriorityNormal
}
func (m *fakeMeta) DoNotDownload(piece int) bool {
	return m.doNot[piece]
}
func (m *fakeMeta) PexEnabled() bool { return true }

func TestRankPiecesRaritySort(t *testing.T) {
	require := require.New(t)

	// 3 pieces, equal priority, equal missing-block count (1 each). Piece 0
	// is owned by 2 peers, piece 1 by 1 peer, piece 2 by none.
	meta := &fakeMeta{numPieces: 3, doNot: map[int]bool{}}
	have := bitfield.New(3)
	requested := bitfield.New(3)

	counters := syncutil.NewCounters(3)
	counters.Set(0, 2)
	counters.Set(1, 1)
	counters.Set(2, 0)

	rng := rand.New(rand.NewSource(1))
	ranked := RankPieces(meta, have, requested, counters, rng)

	require.Equal([]int{2, 1, 0}, ranked)
}

func TestRankPiecesSkipsCompleteAndDoNotDownload(t *testing.T) {
	require := require.New(t)

	meta := &fakeMeta{numPieces: 3, doNot: map[int]bool{1: true}}
	have := bitfield.New(3)
	have.Add(0)
	requested := bitfield.New(3)

	counters := syncutil.NewCounters(3)
	rng := rand.New(rand.NewSource(1))

	ranked := RankPieces(meta, have, requested, counters, rng)
	require.Equal([]int{2}, ranked)
}

// blockMeta gives each piece two blocks, for endgame-blend testing.
type blockMeta struct{}

func (m *blockMeta) InfoHash() core.InfoHash         { return core.InfoHash{} }
func (m *blockMeta) NumPieces() int                  { return 1 }
func (m *blockMeta) NumBlocks(piece int) int          { return 2 }
func (m *blockMeta) BlockIndex(piece, block int) int  { return block }
func (m *blockMeta) Priority(piece int) core.Priority { return core.PriorityNormal }
func (m *blockMeta) DoNotDownload(piece int) bool     { return false }
func (m *blockMeta) PexEnabled() bool                 { return true }

func TestSortBlocksEndgameBlend(t *testing.T) {
	require := require.New(t)

	meta := &blockMeta{}
	have := bitfield.New(1)
	requested := bitfield.New(2)
	requested.Add(0) // block 0 already in flight.

	blocks := SortBlocks(meta, have, requested, []int{0})

	require.Len(blocks, 2)
	require.Equal(1, blocks[0].Index) // unrequested block dispatched first.
	require.Equal(0, blocks[1].Index) // requested block dispatched last.
}

type fakeProber struct {
	result ProbeResult
	probed []Block
}

func (p *fakeProber) Probe(blk Block) ProbeResult {
	p.probed = append(p.probed, blk)
	return p.result
}

func TestDispatchMarksOKBlocksRequested(t *testing.T) {
	require := require.New(t)

	a := &fakeProber{result: ProbeOK}
	b := &fakeProber{result: ProbeOK}
	requested := bitfield.New(4)

	blocks := []Block{{Piece: 0, Index: 0}, {Piece: 0, Index: 1}}
	rng := rand.New(rand.NewSource(1))

	Dispatch([]Prober{a, b}, blocks, requested, rng)

	require.True(requested.Test(0))
	require.True(requested.Test(1))
}

func TestDispatchDropsChokedPeers(t *testing.T) {
	require := require.New(t)

	choked := &fakeProber{result: ProbeClientChoked}
	ok := &fakeProber{result: ProbeOK}
	requested := bitfield.New(4)

	blocks := []Block{{Piece: 0, Index: 0}, {Piece: 0, Index: 1}}
	rng := rand.New(rand.NewSource(42))

	Dispatch([]Prober{choked, ok}, blocks, requested, rng)

	// One of the two blocks must have been fulfilled by the non-choked peer.
	require.True(requested.Test(0) || requested.Test(1))
}

func TestDispatchEmptyInputsNoop(t *testing.T) {
	require := require.New(t)

	requested := bitfield.New(4)
	rng := rand.New(rand.NewSource(1))

	Dispatch(nil, []Block{{Piece: 0, Index: 0}}, requested, rng)
	Dispatch([]Prober{&fakeProber{result: ProbeOK}}, nil, requested, rng)

	require.Equal(uint(0), requested.Popcount())
}

func TestRankPiecesKeepsFullyRequestedPieces(t *testing.T) {
	require := require.New(t)

	// Piece 0 fully requested, piece 1 untouched. Both must rank, with the
	// fully-requested piece first (fewest missing blocks), so its blocks
	// can be raced during endgame.
	meta := &fakeMeta{numPieces: 2, doNot: map[int]bool{}}
	have := bitfield.New(2)
	requested := bitfield.New(2)
	requested.Add(0)

	counters := syncutil.NewCounters(2)
	rng := rand.New(rand.NewSource(1))

	ranked := RankPieces(meta, have, requested, counters, rng)
	require.Equal([]int{0, 1}, ranked)
}
