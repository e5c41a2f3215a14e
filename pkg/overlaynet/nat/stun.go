package nat

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	stunMagicCookie   uint32 = 0x2112A442
	stunBindingReq    uint16 = 0x0001
	stunBindingResp   uint16 = 0x0101
	stunHeaderSize           = 20
	stunAttrMapped    uint16 = 0x0001
	stunAttrXorMapped uint16 = 0x0020
)

// STUNResult is a single server's view of our public address, per RFC 5389
// Binding Request/Response.
type STUNResult struct {
	Server     string
	PublicIP   net.IP
	PublicPort int
}

// stunBindingRequest sends a single STUN Binding Request to server over the
// given connection and parses the reflected address from the response. It
// uses the deadline from ctx, falling back to a 3 second timeout.
func stunBindingRequest(ctx context.Context, conn net.PacketConn, server string) (STUNResult, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return STUNResult{}, fmt.Errorf("nat: resolve stun server %s: %w", server, err)
	}

	txID := make([]byte, 12)
	if _, err := rand.Read(txID); err != nil {
		return STUNResult{}, fmt.Errorf("nat: generate transaction id: %w", err)
	}

	req := buildSTUNBindingRequest(txID)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(3 * time.Second))
	}

	if _, err := conn.WriteTo(req, raddr); err != nil {
		return STUNResult{}, fmt.Errorf("nat: send to %s: %w", server, err)
	}

	buf := make([]byte, 512)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return STUNResult{}, fmt.Errorf("nat: read from %s: %w", server, err)
	}

	ip, port, err := parseSTUNResponse(buf[:n], txID)
	if err != nil {
		return STUNResult{}, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, server, err)
	}

	return STUNResult{Server: server, PublicIP: ip, PublicPort: port}, nil
}

// buildSTUNBindingRequest builds a bare 20-byte Binding Request header with
// no attributes, as the simplified public-address probe requires nothing
// else.
func buildSTUNBindingRequest(txID []byte) []byte {
	buf := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], stunBindingReq)
	binary.BigEndian.PutUint16(buf[2:4], 0) // message length, no attributes
	binary.BigEndian.PutUint32(buf[4:8], stunMagicCookie)
	copy(buf[8:20], txID)
	return buf
}

// BuildSTUNBindingRequest is exported for tests exercising the wire format.
func BuildSTUNBindingRequest(txID []byte) []byte {
	return buildSTUNBindingRequest(txID)
}

func parseSTUNResponse(data, expectedTxID []byte) (net.IP, int, error) {
	if len(data) < stunHeaderSize {
		return nil, 0, fmt.Errorf("packet too short: %d bytes", len(data))
	}

	msgType := binary.BigEndian.Uint16(data[0:2])
	if msgType != stunBindingResp {
		return nil, 0, fmt.Errorf("unexpected message type 0x%04x", msgType)
	}
	if binary.BigEndian.Uint32(data[4:8]) != stunMagicCookie {
		return nil, 0, fmt.Errorf("bad magic cookie")
	}
	if !stunBytesEqual(data[8:20], expectedTxID) {
		return nil, 0, fmt.Errorf("transaction id mismatch")
	}

	msgLen := int(binary.BigEndian.Uint16(data[2:4]))
	if stunHeaderSize+msgLen > len(data) {
		return nil, 0, fmt.Errorf("declared length %d exceeds packet size", msgLen)
	}

	return parseSTUNAttributes(data[stunHeaderSize:stunHeaderSize+msgLen], data[8:20])
}

func parseSTUNAttributes(attrs []byte, txID []byte) (net.IP, int, error) {
	var mappedIP net.IP
	mappedPort := -1
	var xorIP net.IP
	xorPort := -1

	for len(attrs) >= 4 {
		attrType := binary.BigEndian.Uint16(attrs[0:2])
		attrLen := int(binary.BigEndian.Uint16(attrs[2:4]))
		if 4+attrLen > len(attrs) {
			break
		}
		value := attrs[4 : 4+attrLen]

		switch attrType {
		case stunAttrXorMapped:
			ip, port, err := parseXorMappedAddress(value, txID)
			if err == nil {
				xorIP, xorPort = ip, port
			}
		case stunAttrMapped:
			ip, port, err := parseMappedAddress(value)
			if err == nil {
				mappedIP, mappedPort = ip, port
			}
		}

		// attributes are padded to a 4-byte boundary
		padded := (attrLen + 3) &^ 3
		if 4+padded > len(attrs) {
			break
		}
		attrs = attrs[4+padded:]
	}

	if xorPort >= 0 {
		return xorIP, xorPort, nil
	}
	if mappedPort >= 0 {
		return mappedIP, mappedPort, nil
	}
	return nil, 0, fmt.Errorf("no mapped address attribute present")
}

func parseMappedAddress(value []byte) (net.IP, int, error) {
	if len(value) < 8 {
		return nil, 0, fmt.Errorf("mapped address too short")
	}
	family := value[1]
	port := int(binary.BigEndian.Uint16(value[2:4]))
	switch family {
	case 0x01: // IPv4
		return net.IP(value[4:8]), port, nil
	case 0x02: // IPv6
		if len(value) < 20 {
			return nil, 0, fmt.Errorf("ipv6 mapped address too short")
		}
		return net.IP(value[4:20]), port, nil
	default:
		return nil, 0, fmt.Errorf("unknown address family 0x%02x", family)
	}
}

func parseXorMappedAddress(value []byte, txID []byte) (net.IP, int, error) {
	if len(value) < 8 {
		return nil, 0, fmt.Errorf("xor-mapped address too short")
	}
	family := value[1]
	cookieBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(cookieBytes, stunMagicCookie)

	xport := binary.BigEndian.Uint16(value[2:4]) ^ uint16(stunMagicCookie>>16)

	switch family {
	case 0x01: // IPv4
		xip := make([]byte, 4)
		for i := 0; i < 4; i++ {
			xip[i] = value[4+i] ^ cookieBytes[i]
		}
		return net.IP(xip), int(xport), nil
	case 0x02: // IPv6
		if len(value) < 20 {
			return nil, 0, fmt.Errorf("ipv6 xor-mapped address too short")
		}
		salt := append(append([]byte{}, cookieBytes...), txID...)
		xip := make([]byte, 16)
		for i := 0; i < 16; i++ {
			xip[i] = value[4+i] ^ salt[i]
		}
		return net.IP(xip), int(xport), nil
	default:
		return nil, 0, fmt.Errorf("unknown address family 0x%02x", family)
	}
}

func stunBytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
