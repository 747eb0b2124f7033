package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

// PublicKeyFromSeed returns the public key string for an Ed25519 seed.
func PublicKeyFromSeed(seed []byte) string {
	priv := ed25519.NewKeyFromSeed(seed)
	return AlgEd25519 + ":" + base64.StdEncoding.EncodeToString(priv.Public().(ed25519.PublicKey))
}

// EncodePublicKey encodes raw public key bytes for alg.
func EncodePublicKey(alg string, pub []byte) (string, error) {
	switch alg {
	case AlgEd25519:
		if l := len(pub); l != ed25519.PublicKeySize {
			return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
		}
	case AlgDilithium3:
		if l := len(pub); l != mode3.PublicKeySize {
			return "", fmt.Errorf("dilithium3 public key must be %d bytes, got %d", mode3.PublicKeySize, l)
		}
	default:
		return "", fmt.Errorf("unsupported key algorithm %q", alg)
	}
	return alg + ":" + base64.StdEncoding.EncodeToString(pub), nil
}

// ParsePublicKey splits "alg:base64" into its algorithm and raw bytes.
func ParsePublicKey(s string) (alg string, pub []byte, err error) {
	alg, b64, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || alg == "" || b64 == "" {
		return "", nil, fmt.Errorf("malformed public key %q", s)
	}
	pub, err = base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", nil, fmt.Errorf("public key: %w", err)
	}
	if _, err := EncodePublicKey(alg, pub); err != nil {
		return "", nil, err
	}
	return alg, pub, nil
}

// DeriveRoleSeed deterministically derives a role-specific Ed25519 seed from
// a root seed. A node's "receipts" key and an issuer's "licenses" key are
// both derived this way from their root.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("auria-keys-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:" + role))
	sum := h.Sum(nil)
	return sum[:ed25519.SeedSize], nil
}
