package keys

import (
	"crypto/ed25519"
	"strings"
	"testing"
)

func seedOf(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b + byte(i)
	}
	return seed
}

func TestDeriveRoleSeedDeterministic(t *testing.T) {
	root := seedOf(0)

	a, err := DeriveRoleSeed(root, "receipts")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	b, err := DeriveRoleSeed(root, "receipts")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected deterministic derivation")
	}

	c, err := DeriveRoleSeed(root, "licenses")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if string(a) == string(c) {
		t.Fatalf("expected different roles to derive different seeds")
	}

	if _, err := DeriveRoleSeed(root[:8], "receipts"); err == nil {
		t.Fatalf("expected short root seed to fail")
	}
	if _, err := DeriveRoleSeed(root, "bad role"); err == nil {
		t.Fatalf("expected invalid role to fail")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	pub := PublicKeyFromSeed(seedOf(0x42))
	if !strings.HasPrefix(pub, "ed25519:") {
		t.Fatalf("expected ed25519 prefix, got %q", pub)
	}
	alg, raw, err := ParsePublicKey(pub)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if alg != AlgEd25519 || len(raw) != ed25519.PublicKeySize {
		t.Fatalf("unexpected parse result: %s/%d", alg, len(raw))
	}
	again, err := EncodePublicKey(alg, raw)
	if err != nil || again != pub {
		t.Fatalf("EncodePublicKey: got (%q, %v) want %q", again, err, pub)
	}
}

func TestParsePublicKeyRejects(t *testing.T) {
	for _, in := range []string{"", "ed25519", "ed25519:", "rsa:AAAA", "ed25519:not-base64!", "ed25519:AAAA"} {
		if _, _, err := ParsePublicKey(in); err == nil {
			t.Fatalf("ParsePublicKey(%q): expected error", in)
		}
	}
}
