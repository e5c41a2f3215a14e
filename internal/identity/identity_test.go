package identity

import (
	"os"
	"path/filepath"
	"testing"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func TestLoadOrCreateKeyGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	key, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKey: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat generated key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("key file mode = %04o, want 0600", perm)
	}

	again, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("LoadOrCreateKey (reload): %v", err)
	}
	if again != key {
		t.Fatal("reloading the key file produced a different key")
	}
}

func TestCheckKeyFilePermissionsRejectsLooseMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	if err := os.WriteFile(path, []byte("not a real key"), 0644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	if err := CheckKeyFilePermissions(path); err == nil {
		t.Fatal("expected an error for a world-readable key file")
	}
}

func TestPeerIDIsStableAndEntropic(t *testing.T) {
	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := key.PublicKey()

	id1 := PeerID(pub)
	id2 := PeerID(pub)
	if id1 != id2 {
		t.Fatal("PeerID is not deterministic for the same public key")
	}
	if len(id1) != peerIDBytes*2 {
		t.Fatalf("peer id length = %d hex chars, want %d", len(id1), peerIDBytes*2)
	}

	other, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate second key: %v", err)
	}
	if PeerID(other.PublicKey()) == id1 {
		t.Fatal("two distinct public keys produced the same peer id")
	}
}
