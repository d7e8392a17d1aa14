// Package refill implements the on-demand piece-request refill pulse:
// ranking which pieces to pursue next, sorting their missing blocks into
// priority bins, and dispatching block requests across the peers we are
// actively downloading from.
package refill

import (
	"math/rand"
	"time"

	"github.com/ember-bt/ember/bitfield"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/internal/heap"
	"github.com/ember-bt/ember/internal/syncutil"
)

// PullDelay is the fixed delay between a NEED_REQ event arming the refill
// timer and the pulse firing, per spec.md §4.2.
const PullDelay = 666 * time.Millisecond

// rankKey packs the ranking order of spec.md §4.2 -- ascending missing
// block count, then descending priority, then ascending peer count
// (rarity), then a random tiebreaker -- into a single ascending heap
// priority. Missing-block and peer counts are clamped to 16 bits, far
// above any real torrent's per-piece block count or connection cap, so
// the fields never bleed into each other.
func rankKey(missingBlocks int, priority core.Priority, peerCount int, tiebreak uint16) int {
	return clamp16(missingBlocks)<<34 |
		int(core.PriorityHigh-priority)<<32 |
		clamp16(peerCount)<<16 |
		int(tiebreak)
}

func clamp16(n int) int {
	if n > 0xFFFF {
		return 0xFFFF
	}
	return n
}

// RankPieces enumerates every interesting piece (not do-not-download and not
// already complete) and ranks them per spec.md §4.2 through a priority
// queue keyed by rankKey.
func RankPieces(
	meta core.TorrentMeta,
	have *bitfield.Bitfield,
	requested *bitfield.Bitfield,
	numPeersByPiece *syncutil.Counters,
	rng *rand.Rand) []int {

	candidateQueue := heap.NewPriorityQueue()
	for piece := 0; piece < meta.NumPieces(); piece++ {
		if meta.DoNotDownload(piece) || have.Test(uint(piece)) {
			continue
		}
		// A piece whose every block is already requested still ranks: its
		// missing count of 0 sorts it first, and its blocks land in the
		// requested bins, which is what lets endgame racing happen.
		candidateQueue.Push(&heap.Item{
			Value: piece,
			Priority: rankKey(
				missingBlockCount(meta, requested, piece),
				meta.Priority(piece),
				numPeersByPiece.Get(piece),
				uint16(rng.Intn(1<<16))),
		})
	}

	pieces := make([]int, 0, candidateQueue.Len())
	for candidateQueue.Len() > 0 {
		item, err := candidateQueue.Pop()
		if err != nil {
			break
		}
		pieces = append(pieces, item.Value.(int))
	}
	return pieces
}

func missingBlockCount(meta core.TorrentMeta, requested *bitfield.Bitfield, piece int) int {
	n := meta.NumBlocks(piece)
	count := 0
	for b := 0; b < n; b++ {
		idx := meta.BlockIndex(piece, b)
		if !requested.Test(uint(idx)) {
			count++
		}
	}
	return count
}

// bin is one of the six (priority tier, requested?) buckets blocks are
// sorted into before dispatch.
type bin int

const (
	binUnrequestedHigh bin = iota
	binUnrequestedNormal
	binUnrequestedLow
	binRequestedHigh
	binRequestedNormal
	binRequestedLow
	numBins
)

func binFor(priority core.Priority, alreadyRequested bool) bin {
	var tier bin
	switch priority {
	case core.PriorityHigh:
		tier = binUnrequestedHigh
	case core.PriorityNormal:
		tier = binUnrequestedNormal
	default:
		tier = binUnrequestedLow
	}
	if alreadyRequested {
		return tier + binRequestedHigh
	}
	return tier
}

// Block identifies a single block within a piece, by its flattened index
// into the torrent's block space.
type Block struct {
	Piece int
	Index int
}

// SortBlocks walks rankedPieces (as produced by RankPieces) and separates
// every still-missing block into the six priority/requested bins, emitting
// them in the order unrequested-high, unrequested-normal, unrequested-low,
// requested-high, requested-normal, requested-low. Appending already-
// requested blocks last yields an implicit per-priority-tier endgame mode.
func SortBlocks(meta core.TorrentMeta, have, requested *bitfield.Bitfield, rankedPieces []int) []Block {
	var bins [numBins][]Block
	for _, piece := range rankedPieces {
		if have.Test(uint(piece)) {
			continue
		}
		priority := meta.Priority(piece)
		n := meta.NumBlocks(piece)
		for b := 0; b < n; b++ {
			idx := meta.BlockIndex(piece, b)
			alreadyRequested := requested.Test(uint(idx))
			bk := binFor(priority, alreadyRequested)
			bins[bk] = append(bins[bk], Block{Piece: piece, Index: idx})
		}
	}

	var out []Block
	for i := 0; i < int(numBins); i++ {
		out = append(out, bins[i]...)
	}
	return out
}

// ProbeResult is the message layer's answer to a single request attempt.
type ProbeResult int

// Probe outcomes, per spec.md §4.2.
const (
	ProbeOK ProbeResult = iota
	ProbeDuplicate
	ProbeMissing
	ProbeClientChoked
	ProbeFull
)

// Prober is the subset of a peer's message layer the dispatch step probes:
// an external collaborator, not implemented by this package.
type Prober interface {
	Probe(blk Block) ProbeResult
}

// Dispatch snapshots the peers we are actively downloading from (already
// filtered by the caller to client-interested and not client-choked),
// rotates them by a uniform random offset, and walks the blocks in order,
// probing each against the peers round-robin. OK marks the block requested
// and advances to both the next block and the next peer. DUPLICATE/MISSING
// leave the peer in rotation and try the same block on the next peer.
// CLIENT_CHOKED/FULL drop the peer from rotation and try the same block on
// the next peer. A block that every remaining peer has refused stays
// unrequested. Dispatch stops when either the peer rotation or the block
// list is exhausted.
func Dispatch(peers []Prober, blocks []Block, requested *bitfield.Bitfield, rng *rand.Rand) {
	if len(peers) == 0 || len(blocks) == 0 {
		return
	}

	offset := rng.Intn(len(peers))
	rotated := make([]Prober, len(peers))
	for i := range peers {
		rotated[i] = peers[(i+offset)%len(peers)]
	}

	cursor := 0
	for _, blk := range blocks {
		if len(rotated) == 0 {
			break
		}
		for tries := len(rotated); tries > 0 && len(rotated) > 0; tries-- {
			i := cursor % len(rotated)
			result := rotated[i].Probe(blk)
			if result == ProbeOK {
				requested.Add(uint(blk.Index))
				cursor = i + 1
				break
			}
			switch result {
			case ProbeDuplicate, ProbeMissing:
				cursor = i + 1
			case ProbeClientChoked, ProbeFull:
				rotated = append(rotated[:i], rotated[i+1:]...)
				cursor = i
			}
		}
	}
}
