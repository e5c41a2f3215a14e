package nat

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestBuildAndParseSTUNBindingRequest(t *testing.T) {
	txID := make([]byte, 12)
	for i := range txID {
		txID[i] = byte(i)
	}

	req := BuildSTUNBindingRequest(txID)
	if len(req) != stunHeaderSize {
		t.Fatalf("request length = %d, want %d", len(req), stunHeaderSize)
	}
	if got := binary.BigEndian.Uint16(req[0:2]); got != stunBindingReq {
		t.Errorf("message type = 0x%04x, want 0x%04x", got, stunBindingReq)
	}
	if got := binary.BigEndian.Uint32(req[4:8]); got != stunMagicCookie {
		t.Errorf("magic cookie = 0x%08x, want 0x%08x", got, stunMagicCookie)
	}
	if !stunBytesEqual(req[8:20], txID) {
		t.Errorf("transaction id not preserved")
	}
}

func buildXorMappedResponse(txID []byte, ip net.IP, port int) []byte {
	ip4 := ip.To4()
	value := make([]byte, 8)
	value[1] = 0x01
	xport := uint16(port) ^ uint16(stunMagicCookie>>16)
	binary.BigEndian.PutUint16(value[2:4], xport)
	cookieBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(cookieBytes, stunMagicCookie)
	for i := 0; i < 4; i++ {
		value[4+i] = ip4[i] ^ cookieBytes[i]
	}

	attr := make([]byte, 4+len(value))
	binary.BigEndian.PutUint16(attr[0:2], stunAttrXorMapped)
	binary.BigEndian.PutUint16(attr[2:4], uint16(len(value)))
	copy(attr[4:], value)

	header := make([]byte, stunHeaderSize)
	binary.BigEndian.PutUint16(header[0:2], stunBindingResp)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(attr)))
	binary.BigEndian.PutUint32(header[4:8], stunMagicCookie)
	copy(header[8:20], txID)

	return append(header, attr...)
}

func TestParseSTUNResponseXorMapped(t *testing.T) {
	txID := make([]byte, 12)
	for i := range txID {
		txID[i] = byte(i + 1)
	}
	wantIP := net.ParseIP("203.0.113.42").To4()
	resp := buildXorMappedResponse(txID, wantIP, 54321)

	ip, port, err := parseSTUNResponse(resp, txID)
	if err != nil {
		t.Fatalf("parseSTUNResponse: %v", err)
	}
	if !ip.Equal(wantIP) {
		t.Errorf("ip = %v, want %v", ip, wantIP)
	}
	if port != 54321 {
		t.Errorf("port = %d, want 54321", port)
	}
}

func TestParseSTUNResponseRejectsTxIDMismatch(t *testing.T) {
	txID := make([]byte, 12)
	other := make([]byte, 12)
	other[0] = 0xff
	resp := buildXorMappedResponse(txID, net.ParseIP("203.0.113.42"), 1234)

	if _, _, err := parseSTUNResponse(resp, other); err == nil {
		t.Fatal("expected transaction id mismatch error")
	}
}

func TestParseSTUNResponseRejectsShortPacket(t *testing.T) {
	if _, _, err := parseSTUNResponse([]byte{1, 2, 3}, make([]byte, 12)); err == nil {
		t.Fatal("expected error for short packet")
	}
}
