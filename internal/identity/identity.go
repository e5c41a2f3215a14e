// Package identity loads or creates the local node's WireGuard keypair and
// derives its opaque peer id from the public key.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// peerIDBytes is how much of the public key's hash becomes the peer id —
// 16 bytes comfortably clears the spec's 8-byte entropy floor.
const peerIDBytes = 16

// CheckKeyFilePermissions verifies that a key file is not readable by group
// or others.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("identity: stat key file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("identity: key file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreateKey loads an existing WireGuard private key from path, or
// generates and persists a new one if the file does not exist. The file
// holds the key's standard base64 wire encoding.
func LoadOrCreateKey(path string) (wgtypes.Key, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := CheckKeyFilePermissions(path); err != nil {
			return wgtypes.Key{}, err
		}
		key, err := wgtypes.ParseKey(strings.TrimSpace(string(data)))
		if err != nil {
			return wgtypes.Key{}, fmt.Errorf("identity: parse key from %s: %w", path, err)
		}
		return key, nil
	}

	key, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("identity: generate key pair: %w", err)
	}
	if err := os.WriteFile(path, []byte(key.String()), 0600); err != nil {
		return wgtypes.Key{}, fmt.Errorf("identity: save key to %s: %w", path, err)
	}
	return key, nil
}

// PeerID derives an opaque peer id from a public key: the first
// peerIDBytes of its SHA-256 digest, hex-encoded.
func PeerID(pub wgtypes.Key) string {
	sum := sha256.Sum256(pub[:])
	return hex.EncodeToString(sum[:peerIDBytes])
}
