package nat

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"time"
)

const (
	punchMarkerCount    = 5
	punchMarkerInterval = 100 * time.Millisecond
	punchAckTimeout     = 2 * time.Second

	punchMarkerMagic uint32 = 0x4c524e47 // "LRNG"
	punchAckMagic    uint32 = 0x4c524b41 // "LRKA"
)

// HolePunch attempts to open a bidirectional UDP path to peerAddr by
// sending punchMarkerCount markers spaced punchMarkerInterval apart over
// conn. Markers, the peer's replies, and the acks this side sends back all
// use that one conn, so the path opened is the NAT mapping of conn itself;
// the caller chooses which socket that is (Prober.Probe closes its own
// socket before returning, so it is never that one). It blocks until an
// ack is received from peerAddr or punchAckTimeout elapses.
func HolePunch(ctx context.Context, conn net.PacketConn, peerAddr *net.UDPAddr) error {
	ctx, cancel := context.WithTimeout(ctx, punchAckTimeout)
	defer cancel()

	ackCh := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 64)
		for {
			conn.SetReadDeadline(time.Now().Add(punchAckTimeout))
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			udpAddr, ok := addr.(*net.UDPAddr)
			if !ok || !udpAddr.IP.Equal(peerAddr.IP) || udpAddr.Port != peerAddr.Port {
				continue
			}
			if isPunchPacket(buf[:n]) {
				// respond with an ack so the peer's own HolePunch unblocks too
				conn.WriteTo(buildPunchPacket(punchAckMagic), peerAddr)
				continue
			}
			if isAckPacket(buf[:n]) {
				select {
				case ackCh <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	marker := buildPunchPacket(punchMarkerMagic)
	for i := 0; i < punchMarkerCount; i++ {
		if _, err := conn.WriteTo(marker, peerAddr); err != nil {
			return fmt.Errorf("nat: send punch marker %d: %w", i, err)
		}
		select {
		case <-ctx.Done():
			return ErrHolePunchTimeout
		case <-time.After(punchMarkerInterval):
		case <-ackCh:
			slog.Info("nat: hole punch succeeded", "peer", peerAddr.String())
			return nil
		}
	}

	select {
	case <-ackCh:
		slog.Info("nat: hole punch succeeded", "peer", peerAddr.String())
		return nil
	case <-ctx.Done():
		return ErrHolePunchTimeout
	case <-readDone:
		return ErrHolePunchTimeout
	}
}

func buildPunchPacket(magic uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, magic)
	return buf
}

func isPunchPacket(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data[:4]) == punchMarkerMagic
}

func isAckPacket(data []byte) bool {
	return len(data) >= 4 && binary.BigEndian.Uint32(data[:4]) == punchAckMagic
}
