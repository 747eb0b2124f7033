// Package license defines shard licenses and the checks applied to them:
// structural validation, issuer signatures, and the per-request Validator.
package license

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"auria.dev/core/auria"
)

// Scope lists who may use a license. Tiers is optional; empty means any tier.
type Scope struct {
	Nodes []auria.NodeID `json:"nodes" validate:"min=1,dive,required"`
	Tiers []auria.Tier   `json:"tiers,omitempty"`
}

// RateLimit caps how fast a license may be used: RequestsPerSecond
// sustained, with bursts of up to Burst requests.
type RateLimit struct {
	RequestsPerSecond uint32 `json:"requests_per_second" validate:"gt=0"`
	Burst             uint32 `json:"burst" validate:"gt=0"`
}

// License authorizes use of exactly one shard. Several licenses sharing a
// Bundle model a multi-shard bundle.
//
// The window is half-open: valid for NotBefore <= now < NotAfter. A zero
// Quota means unbounded; otherwise it is the number of settled executions
// the license pays for.
type License struct {
	ID        auria.LicenseID `json:"id" validate:"required"`
	Shard     auria.ShardID   `json:"shard" validate:"required"`
	Bundle    auria.BundleID  `json:"bundle,omitempty"`
	Scope     Scope           `json:"scope"`
	NotBefore time.Time       `json:"not_before" validate:"required"`
	NotAfter  time.Time       `json:"not_after" validate:"required,gtfield=NotBefore"`
	Quota     uint64          `json:"quota,omitempty"`
	RateLimit *RateLimit      `json:"rate_limit,omitempty"`

	Issuer    string `json:"issuer,omitempty"`
	HashAlg   string `json:"hash_alg,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Bounded reports whether the license carries a usage quota.
func (l *License) Bounded() bool { return l.Quota > 0 }

// Covers reports whether node (and tier) fall within the license scope.
func (l *License) Covers(node auria.NodeID, tier auria.Tier) bool {
	if !slices.Contains(l.Scope.Nodes, node) {
		return false
	}
	return len(l.Scope.Tiers) == 0 || slices.Contains(l.Scope.Tiers, tier)
}

// Clone returns a deep copy.
func (l *License) Clone() *License {
	c := *l
	c.Scope.Nodes = slices.Clone(l.Scope.Nodes)
	c.Scope.Tiers = slices.Clone(l.Scope.Tiers)
	if l.RateLimit != nil {
		rl := *l.RateLimit
		c.RateLimit = &rl
	}
	return &c
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Check validates the license's structure (not its signature or
// applicability to a request).
func (l *License) Check() error {
	if err := structValidator().Struct(l); err != nil {
		return fmt.Errorf("license %q: %w", l.ID, err)
	}
	for _, id := range []struct{ kind, v string }{{"license", string(l.ID)}, {"shard", string(l.Shard)}} {
		if err := auria.CheckID(id.kind, id.v); err != nil {
			return err
		}
	}
	for _, t := range l.Scope.Tiers {
		if !t.Valid() {
			return fmt.Errorf("license %q: invalid tier %d in scope", l.ID, t)
		}
	}
	return nil
}

// signingPayload is the signed subset of a License. Field order is fixed;
// times are normalized to UTC.
type signingPayload struct {
	ID        auria.LicenseID `json:"id"`
	Shard     auria.ShardID   `json:"shard"`
	Bundle    auria.BundleID  `json:"bundle,omitempty"`
	Nodes     []auria.NodeID  `json:"nodes"`
	Tiers     []auria.Tier    `json:"tiers,omitempty"`
	NotBefore time.Time       `json:"not_before"`
	NotAfter  time.Time       `json:"not_after"`
	Quota     uint64          `json:"quota"`
	RateLimit *RateLimit      `json:"rate_limit,omitempty"`
	Issuer    string          `json:"issuer"`
	HashAlg   string          `json:"hash_alg"`
}

// SigningPayload returns the canonical bytes covered by the issuer
// signature: everything except the signature itself.
func SigningPayload(l *License) ([]byte, error) {
	nodes := slices.Clone(l.Scope.Nodes)
	slices.Sort(nodes)
	tiers := slices.Clone(l.Scope.Tiers)
	slices.Sort(tiers)
	return json.Marshal(signingPayload{
		ID:        l.ID,
		Shard:     l.Shard,
		Bundle:    l.Bundle,
		Nodes:     nodes,
		Tiers:     tiers,
		NotBefore: l.NotBefore.UTC(),
		NotAfter:  l.NotAfter.UTC(),
		Quota:     l.Quota,
		RateLimit: l.RateLimit,
		Issuer:    l.Issuer,
		HashAlg:   l.HashAlg,
	})
}

// Decode parses a JSON license and checks its structure. Unknown fields are
// rejected.
func Decode(b []byte) (*License, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var l License
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("license: decode: %w", err)
	}
	if err := l.Check(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Encode renders a license as indented JSON.
func Encode(l *License) ([]byte, error) {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
