package keys

import (
	"errors"
	"testing"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestEd25519Signer_Verifies(t *testing.T) {
	s, err := NewEd25519Signer(seedOf(1))
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	msg := []byte("license payload")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := Verify(s.PublicKey(), s.HashAlg(), msg, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(s.PublicKey(), s.HashAlg(), []byte("tampered"), sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify tampered: got %v want %v", err, ErrBadSignature)
	}
	other, _ := NewEd25519Signer(seedOf(2))
	if err := Verify(other.PublicKey(), "sha256", msg, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify wrong key: got %v want %v", err, ErrBadSignature)
	}
}

func TestDilithium3Signer_Verifies(t *testing.T) {
	for _, hashAlg := range []string{"sha256", "sha512", "sha3-256"} {
		t.Run(hashAlg, func(t *testing.T) {
			pk, sk, err := GenerateDilithium3Keypair(&deterministicReader{})
			if err != nil {
				t.Fatalf("GenerateDilithium3Keypair: %v", err)
			}
			s, err := NewDilithium3Signer(pk, sk, hashAlg)
			if err != nil {
				t.Fatalf("NewDilithium3Signer: %v", err)
			}
			msg := []byte("hello")
			sig, err := s.Sign(msg)
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if err := Verify(s.PublicKey(), hashAlg, msg, sig); err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if err := Verify(s.PublicKey(), hashAlg, []byte("other"), sig); !errors.Is(err, ErrBadSignature) {
				t.Fatalf("Verify tampered: got %v", err)
			}
		})
	}
}

func TestDigestUnsupported(t *testing.T) {
	if _, err := Digest("md5", []byte("x")); err == nil {
		t.Fatalf("expected unsupported hash to fail")
	}
}

func TestGuardedSigner(t *testing.T) {
	seed := seedOf(7)
	plain, _ := NewEd25519Signer(seed)

	g, err := NewGuardedSigner(append([]byte(nil), seed...))
	if err != nil {
		t.Fatalf("NewGuardedSigner: %v", err)
	}
	if g.PublicKey() != plain.PublicKey() {
		t.Fatalf("public key mismatch")
	}

	msg := []byte("receipt hash")
	sig, err := g.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	want, _ := plain.Sign(msg)
	if sig != want {
		t.Fatalf("guarded signature differs from plain Ed25519 signature")
	}

	g.Destroy()
	if _, err := g.Sign(msg); !errors.Is(err, ErrSignerDestroyed) {
		t.Fatalf("Sign after Destroy: got %v want %v", err, ErrSignerDestroyed)
	}
}

func TestGuardedSignerWipesInput(t *testing.T) {
	seed := seedOf(9)
	if _, err := NewGuardedSigner(seed); err != nil {
		t.Fatalf("NewGuardedSigner: %v", err)
	}
	for _, b := range seed {
		if b != 0 {
			t.Fatalf("expected caller seed to be wiped")
		}
	}
}
