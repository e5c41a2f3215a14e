package nat

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestClassifyNATOpen(t *testing.T) {
	res := STUNResult{Server: "s1", PublicIP: net.ParseIP("203.0.113.1"), PublicPort: 40000}
	got := classifyNAT(res, net.ParseIP("203.0.113.1"), 55555)
	if got.Type != TypeOpen {
		t.Errorf("Type = %s, want %s", got.Type, TypeOpen)
	}
}

func TestClassifyNATFullCone(t *testing.T) {
	res := STUNResult{Server: "s1", PublicIP: net.ParseIP("198.51.100.5"), PublicPort: 55555}
	got := classifyNAT(res, net.ParseIP("192.168.1.10"), 55555)
	if got.Type != TypeFullCone {
		t.Errorf("Type = %s, want %s", got.Type, TypeFullCone)
	}
}

func TestClassifyNATPortRestrictedCone(t *testing.T) {
	res := STUNResult{Server: "s1", PublicIP: net.ParseIP("198.51.100.5"), PublicPort: 40004}
	got := classifyNAT(res, net.ParseIP("192.168.1.10"), 55555)
	if got.Type != TypePortRestrictedCone {
		t.Errorf("Type = %s, want %s", got.Type, TypePortRestrictedCone)
	}
}

func TestClassifyNATUnknownLocalIP(t *testing.T) {
	res := STUNResult{Server: "s1", PublicIP: net.ParseIP("198.51.100.5"), PublicPort: 55555}
	got := classifyNAT(res, nil, 55555)
	// local IP undeterminable: falls through to the port comparison, which
	// still matches, so this is classified full_cone rather than open.
	if got.Type != TypeFullCone {
		t.Errorf("Type = %s, want %s", got.Type, TypeFullCone)
	}
}

func TestProbeHolePunchable(t *testing.T) {
	cases := []struct {
		typ  Type
		want bool
	}{
		{TypeOpen, true},
		{TypeFullCone, true},
		{TypeRestrictedCone, true},
		{TypePortRestrictedCone, true},
		{TypeSymmetric, false},
		{TypeUnknown, false},
	}
	for _, c := range cases {
		r := ProbeResult{Type: c.typ}
		if got := r.HolePunchable(); got != c.want {
			t.Errorf("HolePunchable(%s) = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestCanDirectConnectMatrix(t *testing.T) {
	cases := []struct {
		a, b      Type
		direct    bool
		holePunch bool
		caseName  string
	}{
		{TypeOpen, TypeOpen, true, false, "both open"},
		{TypeOpen, TypeSymmetric, true, false, "open beats symmetric"},
		{TypeFullCone, TypeFullCone, true, false, "both full cone, no punch needed"},
		{TypeFullCone, TypePortRestrictedCone, true, true, "mixed cone needs punch"},
		{TypeRestrictedCone, TypePortRestrictedCone, true, true, "self-declared restricted cone needs punch"},
		{TypeSymmetric, TypeSymmetric, false, false, "both symmetric requires relay"},
		{TypeSymmetric, TypeFullCone, false, false, "symmetric side requires relay"},
		{TypeUnknown, TypeFullCone, false, false, "unknown side is unsafe"},
	}
	for _, c := range cases {
		direct, hp := CanDirectConnect(c.a, c.b)
		if direct != c.direct || hp != c.holePunch {
			t.Errorf("%s: CanDirectConnect(%s, %s) = (%v, %v), want (%v, %v)",
				c.caseName, c.a, c.b, direct, hp, c.direct, c.holePunch)
		}
	}
}

func TestHolePunchLoopback(t *testing.T) {
	connA, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	defer connA.Close()
	connB, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen B: %v", err)
	}
	defer connB.Close()

	addrA := connA.LocalAddr().(*net.UDPAddr)
	addrB := connB.LocalAddr().(*net.UDPAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- HolePunch(ctx, connA, addrB) }()
	go func() { errCh <- HolePunch(ctx, connB, addrA) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("HolePunch: %v", err)
		}
	}
}
