package core

// Priority is a piece's tri-state download priority.
type Priority int

// Piece priorities, per spec.md §4.2.
const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// TorrentMeta is the external collaborator exposing static torrent
// metadata: piece/block layout and per-piece priority/skip flags. The peer
// manager never parses or persists this data itself -- it is supplied by
// the torrent orchestration layer above.
type TorrentMeta interface {
	InfoHash() InfoHash

	// NumPieces returns the total number of pieces in the torrent.
	NumPieces() int

	// NumBlocks returns the number of blocks piece i is divided into.
	NumBlocks(piece int) int

	// BlockIndex returns the global block index for (piece, blockInPiece),
	// used to index the Torrent's `requested` bitfield, which is flat over
	// all blocks in the torrent.
	BlockIndex(piece, blockInPiece int) int

	// Priority returns the configured priority of piece i.
	Priority(piece int) Priority

	// DoNotDownload reports whether piece i has been marked do-not-download.
	DoNotDownload(piece int) bool

	// PexEnabled reports whether this torrent allows peer exchange. The
	// reconnection pulse's seed-peer closure check treats a peer as stale
	// once PEX would have had a chance to run, per spec.md §4.4 -- but a
	// torrent with PEX disabled never gets that chance, so such peers only
	// close on the ordinary idle-timeout path.
	PexEnabled() bool
}

// Blocklist is the external collaborator used to reject candidate
// addresses (from PEX, tracker, or reconnection) that are known-bad.
type Blocklist interface {
	Blocked(a Addr) bool
}
