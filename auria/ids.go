package auria

import (
	"fmt"
	"strings"
)

// ShardID names a licensed unit of model weights.
type ShardID string

// ExpertID names a published composition of shards.
type ExpertID string

// NodeID is the identity of a requesting node. Nodes created by the keys
// package use the "ed25519:<base64 pubkey>" form, but any non-empty string
// without whitespace is accepted.
type NodeID string

// LicenseID names a single license instance.
type LicenseID string

// BundleID groups licenses issued together for several shards.
type BundleID string

func (id ShardID) String() string   { return string(id) }
func (id ExpertID) String() string  { return string(id) }
func (id NodeID) String() string    { return string(id) }
func (id LicenseID) String() string { return string(id) }
func (id BundleID) String() string  { return string(id) }

// CheckID reports whether s is usable as an identifier: non-empty and free of
// whitespace and control characters.
func CheckID(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s id cannot be empty", kind)
	}
	if strings.TrimSpace(s) != s {
		return fmt.Errorf("%s id %q has surrounding whitespace", kind, s)
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("invalid character %q in %s id", r, kind)
		}
	}
	return nil
}
