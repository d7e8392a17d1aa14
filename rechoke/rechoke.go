// Package rechoke implements the periodic rechoke pulse: ranking peers by
// transfer rate, capping the unchoked set, and rotating the optimistic
// unchoke slot.
package rechoke

import (
	"math/rand"
	"sort"
	"strings"
	"time"
)

// MaxUnchokedPeers is the cap on simultaneously-unchoked interested peers,
// per spec.md §4.3.
const MaxUnchokedPeers = 12

// NewPeerAge is the I/O age threshold below which a peer counts as "new"
// for the optimistic-slot weighting.
const NewPeerAge = 45 * time.Second

// Candidate is the subset of peer state the rechoke pulse needs. It exists
// so this package does not need to import the peer package, which keeps
// the ranking logic independently testable.
type Candidate struct {
	ID interface{} // opaque identity, returned back to the caller unchanged.

	Seeding      bool // is THIS peer a seed, i.e. progress >= 1.0.
	WeCanSeed    bool // are we seeding this torrent.
	UploadRate   float64
	DownloadRate float64

	Interested bool // the peer is interested in downloading from us.
	IOAge      time.Duration
	SameClient bool // client-id contains our own implementation's marker.
}

// Decision is the rechoke pulse's verdict for one candidate.
type Decision struct {
	ID         interface{}
	Unchoke    bool
	Optimistic bool
}

// weightedRate returns the rate this candidate is ranked on: our upload
// rate to them if we are seeding, else our download rate from them,
// multiplied by 10 so a u32-scale range is preserved (spec.md §4.3 step 2).
func weightedRate(c Candidate) float64 {
	if c.WeCanSeed {
		return c.UploadRate * 10
	}
	return c.DownloadRate * 10
}

// Run computes the rechoke decision for every candidate, per spec.md §4.3.
// rng supplies the optimistic slot's random draw.
func Run(candidates []Candidate, rng *rand.Rand) []Decision {
	decisions := make(map[interface{}]*Decision, len(candidates))
	for _, c := range candidates {
		decisions[c.ID] = &Decision{ID: c.ID}
	}

	var ranked []Candidate
	for _, c := range candidates {
		if c.Seeding {
			// Force-choke: remote is a seed, nothing to gain.
			continue
		}
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return weightedRate(ranked[i]) > weightedRate(ranked[j])
	})

	unchokedInterested := 0
	var remainder []Candidate
	for _, c := range ranked {
		if unchokedInterested >= MaxUnchokedPeers {
			remainder = append(remainder, c)
			continue
		}
		decisions[c.ID].Unchoke = true
		if c.Interested {
			unchokedInterested++
		}
	}

	optimistic := pickOptimistic(remainder, rng)
	if optimistic != nil {
		d := decisions[optimistic.ID]
		d.Unchoke = true
		d.Optimistic = true
	}

	out := make([]Decision, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, *decisions[c.ID])
	}
	return out
}

// pickOptimistic builds the weighted-random pool described in spec.md §4.3
// step 5: each candidate appears once, x3 if new, x3 again if from the same
// client, then draws one uniformly via prefix sums over the weights.
func pickOptimistic(candidates []Candidate, rng *rand.Rand) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	weights := make([]int, len(candidates))
	total := 0
	for i, c := range candidates {
		w := 1
		if c.IOAge < NewPeerAge {
			w *= 3
		}
		if c.SameClient {
			w *= 3
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		return nil
	}

	draw := rng.Intn(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if draw < cum {
			return &candidates[i]
		}
	}
	return &candidates[len(candidates)-1]
}

// SameClient reports whether clientID carries marker, the substring
// identifying our own implementation (spec.md §4.3 step 5).
func SameClient(clientID, marker string) bool {
	return marker != "" && strings.Contains(clientID, marker)
}
