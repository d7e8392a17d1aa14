package core

import (
	"bytes"
	"fmt"
	"net"
)

// Addr is an IPv4 address and port, the key under which a PeerAtom and a
// live Peer are both indexed. Unlike PeerID, Addr is the durable identity
// the atom pool keys on -- two atoms for the same torrent never share one.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// NewAddr builds an Addr from a net.IP and port. Returns an error if ip is
// not a valid IPv4 address.
func NewAddr(ip net.IP, port uint16) (Addr, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Addr{}, fmt.Errorf("not an ipv4 address: %s", ip)
	}
	var a Addr
	copy(a.IP[:], v4)
	a.Port = port
	return a, nil
}

// IPv4 returns a's address as a net.IP.
func (a Addr) IPv4() net.IP {
	return net.IP(a.IP[:])
}

// String renders a in "ip:port" form.
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.IPv4(), a.Port)
}

// LessThan imposes the total order sorted sets (atoms, peers, outgoing
// handshakes) iterate in: by IP first, then by port.
func (a Addr) LessThan(o Addr) bool {
	if c := bytes.Compare(a.IP[:], o.IP[:]); c != 0 {
		return c < 0
	}
	return a.Port < o.Port
}

// Slash24 masks a's IP to its /24, the granularity the allowed-set
// derivation keys off of.
func (a Addr) Slash24() [4]byte {
	var m [4]byte
	copy(m[:], a.IP[:])
	m[3] = 0
	return m
}
