package atom

import (
	"testing"

	"github.com/ember-bt/ember/core"
	"github.com/stretchr/testify/require"
)

func TestPoolGetOrAddIsIdempotent(t *testing.T) {
	require := require.New(t)

	p := NewPool()
	addr := mustAddr(t, "10.0.0.1", 6881)

	a1 := p.GetOrAdd(addr, core.FromTracker)
	a2 := p.GetOrAdd(addr, core.FromPEX)

	require.Same(a1, a2)
	require.Equal(core.FromTracker, a1.From)
	require.Equal(1, p.Len())
}

func TestPoolGetRemove(t *testing.T) {
	require := require.New(t)

	p := NewPool()
	addr := mustAddr(t, "10.0.0.1", 6881)
	p.GetOrAdd(addr, core.FromIncoming)

	_, ok := p.Get(addr)
	require.True(ok)

	p.Remove(addr)
	_, ok = p.Get(addr)
	require.False(ok)
}

func TestPoolSliceIsSortedByAddress(t *testing.T) {
	require := require.New(t)

	p := NewPool()
	addrs := []core.Addr{
		mustAddr(t, "10.0.0.3", 6881),
		mustAddr(t, "10.0.0.1", 6881),
		mustAddr(t, "10.0.0.1", 80),
		mustAddr(t, "10.0.0.2", 6881),
	}
	for _, a := range addrs {
		p.GetOrAdd(a, core.FromTracker)
	}

	slice := p.Slice()
	require.Len(slice, 4)
	require.Equal(mustAddr(t, "10.0.0.1", 80), slice[0].Addr)
	require.Equal(mustAddr(t, "10.0.0.1", 6881), slice[1].Addr)
	require.Equal(mustAddr(t, "10.0.0.2", 6881), slice[2].Addr)
	require.Equal(mustAddr(t, "10.0.0.3", 6881), slice[3].Addr)
}

func TestPoolClear(t *testing.T) {
	require := require.New(t)

	p := NewPool()
	p.GetOrAdd(mustAddr(t, "10.0.0.1", 6881), core.FromTracker)
	p.GetOrAdd(mustAddr(t, "10.0.0.2", 6881), core.FromTracker)
	require.Equal(2, p.Len())

	p.Clear()
	require.Equal(0, p.Len())
}
