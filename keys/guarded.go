package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSignerDestroyed is returned by a GuardedSigner after Destroy.
var ErrSignerDestroyed = errors.New("keys: signer destroyed")

// GuardedSigner is an Ed25519 signer whose seed lives in a locked, read-only
// memguard buffer. The private key is expanded only for the duration of a
// Sign call.
type GuardedSigner struct {
	mu  sync.Mutex
	buf *memguard.LockedBuffer
	pub string
}

var _ Signer = (*GuardedSigner)(nil)

// NewGuardedSigner moves seed into locked memory. The caller's slice is
// wiped.
func NewGuardedSigner(seed []byte) (*GuardedSigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	pub := PublicKeyFromSeed(seed)
	buf := memguard.NewBufferFromBytes(seed)
	if buf == nil || buf.Size() == 0 {
		return nil, errors.New("keys: failed to allocate guarded buffer")
	}
	buf.Freeze()
	return &GuardedSigner{buf: buf, pub: pub}, nil
}

func (g *GuardedSigner) PublicKey() string { return g.pub }
func (g *GuardedSigner) HashAlg() string   { return "sha256" }

func (g *GuardedSigner) Sign(message []byte) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buf == nil {
		return "", ErrSignerDestroyed
	}
	priv := ed25519.NewKeyFromSeed(g.buf.Bytes())
	defer memguard.WipeBytes(priv)

	digest := sha256.Sum256(message)
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, digest[:])), nil
}

// Destroy wipes the seed. Further Sign calls fail.
func (g *GuardedSigner) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buf != nil {
		g.buf.Destroy()
		g.buf = nil
	}
}
