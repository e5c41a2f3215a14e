package wgtunnel

import "testing"

func TestParseAllowedIPsAcceptsValidCIDRs(t *testing.T) {
	nets, err := parseAllowedIPs([]string{"10.66.0.5/32", "10.66.1.0/24"})
	if err != nil {
		t.Fatalf("parseAllowedIPs: %v", err)
	}
	if len(nets) != 2 {
		t.Fatalf("got %d nets, want 2", len(nets))
	}
	if nets[0].String() != "10.66.0.5/32" {
		t.Fatalf("nets[0] = %s", nets[0].String())
	}
}

func TestParseAllowedIPsRejectsInvalidCIDR(t *testing.T) {
	if _, err := parseAllowedIPs([]string{"not-a-cidr"}); err == nil {
		t.Fatal("expected an error for an invalid CIDR")
	}
}

func TestParseAllowedIPsEmptyInputIsEmptyOutput(t *testing.T) {
	nets, err := parseAllowedIPs(nil)
	if err != nil {
		t.Fatalf("parseAllowedIPs: %v", err)
	}
	if len(nets) != 0 {
		t.Fatalf("got %d nets, want 0", len(nets))
	}
}
