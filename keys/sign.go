package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// ErrBadSignature is returned by Verify when the signature does not match.
var ErrBadSignature = errors.New("keys: signature verification failed")

// Signer produces base64 signatures over hash(message).
type Signer interface {
	// PublicKey returns the "alg:base64" public key string.
	PublicKey() string
	// HashAlg names the digest applied before signing.
	HashAlg() string
	Sign(message []byte) (string, error)
}

// Digest hashes message with hashAlg: sha256, sha512 or sha3-256.
func Digest(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %q", hashAlg)
	}
}

// Verify checks a base64 signature over hash(message) against a public key
// string.
func Verify(publicKey, hashAlg string, message []byte, sigB64 string) error {
	alg, pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	digest, err := Digest(hashAlg, message)
	if err != nil {
		return err
	}

	switch alg {
	case AlgEd25519:
		if len(sig) != ed25519.SignatureSize || !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
			return ErrBadSignature
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("dilithium3 public key: %w", err)
		}
		if len(sig) != mode3.SignatureSize || !mode3.Verify(&pk, digest, sig) {
			return ErrBadSignature
		}
	}
	return nil
}

// Ed25519Signer signs sha256 digests with an in-memory Ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  string
}

func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed), pub: PublicKeyFromSeed(seed)}, nil
}

func (s *Ed25519Signer) PublicKey() string { return s.pub }
func (s *Ed25519Signer) HashAlg() string   { return "sha256" }

func (s *Ed25519Signer) Sign(message []byte) (string, error) {
	digest := sha256.Sum256(message)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, digest[:])), nil
}

// Dilithium3Signer signs with a post-quantum Dilithium3 key.
type Dilithium3Signer struct {
	priv    *mode3.PrivateKey
	pub     string
	hashAlg string
}

// NewDilithium3Signer wraps a keypair. hashAlg must be one of sha256,
// sha512, sha3-256.
func NewDilithium3Signer(pub *mode3.PublicKey, priv *mode3.PrivateKey, hashAlg string) (*Dilithium3Signer, error) {
	if pub == nil || priv == nil {
		return nil, errors.New("missing dilithium3 key")
	}
	if _, err := Digest(hashAlg, nil); err != nil {
		return nil, err
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	enc, err := EncodePublicKey(AlgDilithium3, raw)
	if err != nil {
		return nil, err
	}
	return &Dilithium3Signer{priv: priv, pub: enc, hashAlg: hashAlg}, nil
}

func (s *Dilithium3Signer) PublicKey() string { return s.pub }
func (s *Dilithium3Signer) HashAlg() string   { return s.hashAlg }

func (s *Dilithium3Signer) Sign(message []byte) (string, error) {
	digest, err := Digest(s.hashAlg, message)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, digest, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}
