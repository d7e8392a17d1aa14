// Package reconnect implements the periodic reconnection pulse: closing
// unhealthy live peers and promoting atom-pool candidates into new outgoing
// handshakes, under a global per-second connection-rate budget.
package reconnect

import (
	"sort"
	"time"

	"github.com/ember-bt/ember/atom"
	"github.com/ember-bt/ember/core"
	"github.com/ember-bt/ember/internal/timeutil"
)

// Tunables from spec.md §4.4.
const (
	MaxConnectionsPerSecond  = 8
	MaxReconnectionsPerPulse = 1
	MinUploadIdleSecs        = 180
	MaxUploadIdleSecs        = 600
	MaxNumFailsBeforeBan     = 3
	MinCoolDown              = 10 * time.Minute
	MaxCoolDown              = 30 * time.Minute
	PieceDataGrace           = 30 * time.Second
)

// LivePeer is the subset of live-peer state the closure sweep needs.
type LivePeer struct {
	Addr          core.Addr
	DoPurge       bool
	IsSeed        bool // this peer claims to have every piece we have.
	PEXDisabled   bool
	LastPieceData time.Time
}

// IdleLimit computes the idle-time-since-last-piece-data threshold beyond
// which a peer is closed. It slides linearly from MinUploadIdleSecs at zero
// connections to MaxUploadIdleSecs at >= 90% of max connections.
func IdleLimit(numConns, maxConns int) time.Duration {
	if maxConns <= 0 {
		return MinUploadIdleSecs * time.Second
	}
	ninetyPct := float64(maxConns) * 0.9
	frac := float64(numConns) / ninetyPct
	if frac > 1 {
		frac = 1
	}
	secs := MinUploadIdleSecs + frac*(MaxUploadIdleSecs-MinUploadIdleSecs)
	return time.Duration(secs) * time.Second
}

// ShouldClose reports whether p should be closed in this pulse's closure
// sweep, per spec.md §4.4.
func ShouldClose(
	p LivePeer,
	weAreSeeding bool,
	atomTime time.Time,
	now time.Time,
	idleLimit time.Duration) bool {

	if p.DoPurge {
		return true
	}
	if weAreSeeding && p.IsSeed && (p.PEXDisabled || now.Sub(atomTime) >= 30*time.Second) {
		return true
	}
	// A peer that has never transferred piece data counts as idle for zero
	// seconds, not forever -- otherwise every fresh connection would be
	// closed by the first pulse after it opens.
	if !p.LastPieceData.IsZero() && now.Sub(p.LastPieceData) > idleLimit {
		return true
	}
	return false
}

// OnPeerClosed updates a's failure bookkeeping when a live peer for it is
// closed: if the peer ever transferred piece data, numFails resets to 0,
// else it increments.
func OnPeerClosed(a *atom.Atom, everTransferredData bool) {
	if everTransferredData {
		a.NumFails = 0
	} else {
		a.NumFails++
	}
}

// InUse reports whether addr is already a live peer or a pending handshake
// (incoming or outgoing) -- such atoms are ineligible for promotion.
type InUse func(addr core.Addr) bool

// Blocked reports whether addr is blocklisted.
type Blocked func(addr core.Addr) bool

// cooldownRequired computes the required wait since atom.Time before a's
// cooled-down atom becomes a reconnect candidate again. Returns 0 if the
// atom transferred piece data recently (no cool-down applies).
func cooldownRequired(a *atom.Atom, now time.Time) time.Duration {
	if now.Sub(a.PieceDataTime) <= PieceDataGrace {
		return 0
	}
	return timeutil.Clamp(time.Duration(a.NumFails)*MinCoolDown, MinCoolDown, MaxCoolDown)
}

// SelectCandidates filters and ranks the pool's atoms into reconnect
// candidates, per spec.md §4.4's candidate selection paragraph.
func SelectCandidates(
	pool *atom.Pool,
	weAreSeeding bool,
	now time.Time,
	inUse InUse,
	blocked Blocked) []*atom.Atom {

	var candidates []*atom.Atom
	for _, a := range pool.Slice() {
		if a.Banned() || a.Unreachable() {
			continue
		}
		if inUse(a.Addr) {
			continue
		}
		if weAreSeeding && a.IsSeed() {
			continue
		}
		if a.NumFails > MaxNumFailsBeforeBan {
			continue
		}
		if blocked(a.Addr) {
			continue
		}
		if now.Sub(a.Time) < cooldownRequired(a, now) {
			continue
		}
		candidates = append(candidates, a)
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if !ci.PieceDataTime.Equal(cj.PieceDataTime) {
			return ci.PieceDataTime.After(cj.PieceDataTime)
		}
		if ci.NumFails != cj.NumFails {
			return ci.NumFails < cj.NumFails
		}
		return ci.Time.Before(cj.Time)
	})

	return candidates
}

// Budget tracks the global per-second connection-promotion budget shared
// across all torrents (MaxConnectionsPerSecond). It resets whenever the
// wall-clock second changes.
type Budget struct {
	last      time.Time
	remaining int
}

// NewBudget creates a Budget with a full allotment.
func NewBudget() *Budget {
	return &Budget{remaining: MaxConnectionsPerSecond}
}

// Take reserves one promotion from the budget at time now, resetting the
// allotment if the wall-clock second has advanced. Returns false if the
// budget is exhausted for the current second.
func (b *Budget) Take(now time.Time) bool {
	if now.Truncate(time.Second).After(b.last) {
		b.last = now.Truncate(time.Second)
		b.remaining = MaxConnectionsPerSecond
	}
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}
