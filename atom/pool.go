package atom

import (
	"sort"

	"github.com/ember-bt/ember/core"
)

// Pool is a per-torrent collection of Atoms, keyed by address. It survives
// for the lifetime of its owning torrent, independent of which connections
// come and go. Pool is not safe for concurrent use; callers running inside
// the manager's single event loop do not need to synchronize it themselves.
type Pool struct {
	atoms map[core.Addr]*Atom
}

// NewPool creates an empty Pool.
func NewPool() *Pool {
	return &Pool{atoms: make(map[core.Addr]*Atom)}
}

// GetOrAdd returns the existing atom for addr, or creates one discovered via
// from if none exists yet. Per the "at most one atom per (torrent, address)"
// invariant, repeated sightings of the same address never create a second
// atom.
func (p *Pool) GetOrAdd(addr core.Addr, from core.From) *Atom {
	if a, ok := p.atoms[addr]; ok {
		return a
	}
	a := New(addr, from)
	p.atoms[addr] = a
	return a
}

// Get returns the atom for addr, if any.
func (p *Pool) Get(addr core.Addr) (*Atom, bool) {
	a, ok := p.atoms[addr]
	return a, ok
}

// Remove deletes the atom for addr. Atoms are never removed except when
// their owning torrent itself is removed.
func (p *Pool) Remove(addr core.Addr) {
	delete(p.atoms, addr)
}

// Len returns the number of atoms in the pool.
func (p *Pool) Len() int {
	return len(p.atoms)
}

// Slice returns every atom in the pool, sorted ascending by address.
func (p *Pool) Slice() []*Atom {
	atoms := make([]*Atom, 0, len(p.atoms))
	for _, a := range p.atoms {
		atoms = append(atoms, a)
	}
	sort.Slice(atoms, func(i, j int) bool {
		return atoms[i].Addr.LessThan(atoms[j].Addr)
	})
	return atoms
}

// Clear empties the pool. Used when a torrent is removed.
func (p *Pool) Clear() {
	p.atoms = make(map[core.Addr]*Atom)
}
