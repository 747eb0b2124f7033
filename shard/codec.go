package shard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"auria.dev/core/auria"
	"auria.dev/core/tensor"
)

// FormatVersion is the blob schema version written by Encode.
const FormatVersion = 1

// ErrCorrupt marks blobs that cannot be decoded into a valid shard.
var ErrCorrupt = errors.New("shard: corrupt blob")

type blob struct {
	Version int              `json:"version"`
	ID      auria.ShardID    `json:"id"`
	Experts []auria.ExpertID `json:"experts,omitempty"`
	MinTier auria.Tier       `json:"min_tier"`
	Meta    Meta             `json:"meta"`
	Tensors []blobTensor     `json:"tensors"`
}

type blobTensor struct {
	Name  string       `json:"name"`
	Shape []int        `json:"shape"`
	DType tensor.DType `json:"dtype"`
	Data  []byte       `json:"data"`
}

// Encode serializes s. Output is deterministic: tensors are written in name
// order.
func Encode(s *Shard) ([]byte, error) {
	b := blob{
		Version: FormatVersion,
		ID:      s.id,
		Experts: s.experts,
		MinTier: s.minTier,
		Meta:    s.meta,
		Tensors: make([]blobTensor, 0, len(s.names)),
	}
	if !b.Meta.CreatedAt.IsZero() {
		b.Meta.CreatedAt = b.Meta.CreatedAt.UTC()
	}
	for _, name := range s.names {
		t := s.tensors[name]
		b.Tensors = append(b.Tensors, blobTensor{Name: name, Shape: t.Shape(), DType: t.DType(), Data: t.Bytes()})
	}
	return json.Marshal(b)
}

// Decode parses a shard blob, validating every tensor. Failures wrap
// ErrCorrupt.
func Decode(data []byte) (*Shard, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var b blob
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if b.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, b.Version)
	}
	tensors := make(map[string]*tensor.Tensor, len(b.Tensors))
	for _, bt := range b.Tensors {
		if _, dup := tensors[bt.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrCorrupt, bt.Name)
		}
		t, err := tensor.New(bt.Shape, bt.DType, bt.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrCorrupt, bt.Name, err)
		}
		tensors[bt.Name] = t
	}
	s, err := New(b.ID, b.Experts, b.MinTier, tensors, b.Meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}
