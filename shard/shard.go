// Package shard defines the licensed unit of model weights and its blob
// encoding.
package shard

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"auria.dev/core/auria"
	"auria.dev/core/tensor"
)

// Meta is descriptive shard metadata. Owner is the owner's public key string.
type Meta struct {
	Owner     string    `json:"owner,omitempty"`
	Version   uint32    `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Shard owns a set of named tensors. It is immutable; tensor bytes are only
// reachable through its accessors.
type Shard struct {
	id      auria.ShardID
	experts []auria.ExpertID
	minTier auria.Tier
	tensors map[string]*tensor.Tensor
	names   []string
	meta    Meta
}

// New builds a shard. experts lists the experts the shard may belong to;
// empty means any. At least one tensor is required.
func New(id auria.ShardID, experts []auria.ExpertID, minTier auria.Tier, tensors map[string]*tensor.Tensor, meta Meta) (*Shard, error) {
	if err := auria.CheckID("shard", string(id)); err != nil {
		return nil, err
	}
	if !minTier.Valid() {
		return nil, fmt.Errorf("shard %q: invalid min tier %d", id, minTier)
	}
	if len(tensors) == 0 {
		return nil, fmt.Errorf("shard %q: no tensors", id)
	}
	own := make(map[string]*tensor.Tensor, len(tensors))
	names := make([]string, 0, len(tensors))
	for name, t := range tensors {
		if name == "" {
			return nil, fmt.Errorf("shard %q: empty tensor name", id)
		}
		if t == nil {
			return nil, fmt.Errorf("shard %q: tensor %q is nil", id, name)
		}
		own[name] = t
		names = append(names, name)
	}
	sort.Strings(names)
	for _, e := range experts {
		if err := auria.CheckID("expert", string(e)); err != nil {
			return nil, fmt.Errorf("shard %q: %w", id, err)
		}
	}
	return &Shard{
		id:      id,
		experts: slices.Clone(experts),
		minTier: minTier,
		tensors: own,
		names:   names,
		meta:    meta,
	}, nil
}

func (s *Shard) ID() auria.ShardID         { return s.id }
func (s *Shard) MinTier() auria.Tier       { return s.minTier }
func (s *Shard) Meta() Meta                { return s.meta }
func (s *Shard) Experts() []auria.ExpertID { return slices.Clone(s.experts) }

// MemberOf reports whether the shard may be used by expert.
func (s *Shard) MemberOf(expert auria.ExpertID) bool {
	return len(s.experts) == 0 || slices.Contains(s.experts, expert)
}

// Tensor returns the named tensor. Tensors are immutable, so the shard's own
// instance is returned.
func (s *Shard) Tensor(name string) (*tensor.Tensor, bool) {
	t, ok := s.tensors[name]
	return t, ok
}

// TensorNames returns the tensor names in sorted order.
func (s *Shard) TensorNames() []string { return slices.Clone(s.names) }

// ByteLen is the total size of the shard's tensor buffers.
func (s *Shard) ByteLen() int {
	n := 0
	for _, t := range s.tensors {
		n += t.ByteLen()
	}
	return n
}
