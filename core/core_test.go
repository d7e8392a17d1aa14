package core

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, ip string, port uint16) Addr {
	a, err := NewAddr(net.ParseIP(ip), port)
	require.NoError(t, err)
	return a
}

func TestNewAddrRejectsNonIPv4(t *testing.T) {
	require := require.New(t)

	_, err := NewAddr(net.ParseIP("2001:db8::1"), 6881)
	require.Error(err)
}

func TestAddrString(t *testing.T) {
	require := require.New(t)

	a := mustAddr(t, "10.0.0.1", 6881)
	require.Equal("10.0.0.1:6881", a.String())
}

func TestAddrLessThanOrdersByIPThenPort(t *testing.T) {
	require := require.New(t)

	a := mustAddr(t, "10.0.0.1", 6881)
	b := mustAddr(t, "10.0.0.2", 80)
	c := mustAddr(t, "10.0.0.1", 6882)

	require.True(a.LessThan(b))
	require.False(b.LessThan(a))
	require.True(a.LessThan(c))
	require.False(a.LessThan(a))
}

func TestAddrSlash24MasksLastOctet(t *testing.T) {
	require := require.New(t)

	a := mustAddr(t, "192.168.5.77", 6881)
	require.Equal([4]byte{192, 168, 5, 0}, a.Slash24())

	// Two addresses in the same /24 mask to the same key.
	b := mustAddr(t, "192.168.5.200", 51413)
	require.Equal(a.Slash24(), b.Slash24())
}

func TestInfoHashHexRoundTrip(t *testing.T) {
	require := require.New(t)

	h := NewInfoHashFromBytes([]byte("some torrent"))
	parsed, err := NewInfoHashFromHex(h.Hex())
	require.NoError(err)
	require.Equal(h, parsed)
}

func TestNewInfoHashFromHexRejectsBadInput(t *testing.T) {
	require := require.New(t)

	_, err := NewInfoHashFromHex("deadbeef")
	require.Error(err)

	_, err = NewInfoHashFromHex("zz" + NewInfoHashFromBytes(nil).Hex()[2:])
	require.Error(err)
}

func TestNewPeerIDRoundTrip(t *testing.T) {
	require := require.New(t)

	p, err := RandomPeerID()
	require.NoError(err)

	parsed, err := NewPeerID(p.String())
	require.NoError(err)
	require.Equal(p, parsed)
}

func TestNewPeerIDRejectsWrongLength(t *testing.T) {
	require := require.New(t)

	_, err := NewPeerID("abcd")
	require.Equal(ErrInvalidPeerIDLength, err)
}

func TestFromString(t *testing.T) {
	require := require.New(t)

	require.Equal("tracker", FromTracker.String())
	require.Equal("pex", FromPEX.String())
	require.Equal("unknown", From(99).String())
}
