package broadcast

import (
	"crypto/sha256"
	"encoding/binary"
)

// Packet is the internal envelope carried between local broadcast
// listeners and remote peers.
type Packet struct {
	Data       []byte
	SourceIP   string
	SourcePort int
	DestPort   int
	Protocol   string // "udp" or "multicast"
}

// Fingerprint is a SHA-256 digest over the packet's payload and routing
// tuple, used as the deduplication key.
func (p Packet) Fingerprint() [32]byte {
	h := sha256.New()
	h.Write(p.Data)
	h.Write([]byte(p.SourceIP))
	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], uint32(p.SourcePort))
	h.Write(portBuf[:])
	binary.BigEndian.PutUint32(portBuf[:], uint32(p.DestPort))
	h.Write(portBuf[:])
	h.Write([]byte(p.Protocol))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// IsBroadcastSource reports whether srcIP looks like a broadcast source,
// i.e. ends in ".255" or is the limited broadcast address.
func IsBroadcastSource(srcIP string) bool {
	if srcIP == "255.255.255.255" {
		return true
	}
	return len(srcIP) >= 4 && srcIP[len(srcIP)-4:] == ".255"
}
