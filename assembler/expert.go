package assembler

import (
	"fmt"
	"slices"
	"sync"

	"auria.dev/core/auria"
	"auria.dev/core/tensor"
)

// TensorSpec names a tensor an expert expects from a shard.
type TensorSpec struct {
	Name  string       `json:"name" yaml:"name"`
	Shape []int        `json:"shape" yaml:"shape"`
	DType tensor.DType `json:"dtype" yaml:"dtype"`
}

func (s TensorSpec) spec() tensor.Spec { return tensor.Spec{Shape: s.Shape, DType: s.DType} }

// Slot is one position in an expert's fixed shard list.
type Slot struct {
	Shard   auria.ShardID `json:"shard" yaml:"shard"`
	Tensors []TensorSpec  `json:"tensors" yaml:"tensors"`
}

// Expert is a fixed, ordered composition of shards.
type Expert struct {
	ID    auria.ExpertID `json:"id" yaml:"id"`
	Slots []Slot         `json:"slots" yaml:"slots"`
}

// ShardIDs returns the slot shard ids in order.
func (e *Expert) ShardIDs() []auria.ShardID {
	out := make([]auria.ShardID, len(e.Slots))
	for i, s := range e.Slots {
		out[i] = s.Shard
	}
	return out
}

// Check validates the definition: at least one slot, distinct shards, and
// well-formed tensor specs.
func (e *Expert) Check() error {
	if err := auria.CheckID("expert", string(e.ID)); err != nil {
		return err
	}
	if len(e.Slots) == 0 {
		return fmt.Errorf("expert %q has no shards", e.ID)
	}
	seen := make(map[auria.ShardID]struct{}, len(e.Slots))
	for i, s := range e.Slots {
		if err := auria.CheckID("shard", string(s.Shard)); err != nil {
			return fmt.Errorf("expert %q slot %d: %w", e.ID, i, err)
		}
		if _, dup := seen[s.Shard]; dup {
			return fmt.Errorf("expert %q lists shard %q twice", e.ID, s.Shard)
		}
		seen[s.Shard] = struct{}{}
		names := make(map[string]struct{}, len(s.Tensors))
		for _, ts := range s.Tensors {
			if ts.Name == "" {
				return fmt.Errorf("expert %q slot %d: empty tensor name", e.ID, i)
			}
			if _, dup := names[ts.Name]; dup {
				return fmt.Errorf("expert %q slot %d: tensor %q listed twice", e.ID, i, ts.Name)
			}
			names[ts.Name] = struct{}{}
			if !ts.DType.Valid() {
				return fmt.Errorf("expert %q tensor %q: invalid dtype", e.ID, ts.Name)
			}
			if _, err := tensor.ElementCount(ts.Shape); err != nil {
				return fmt.Errorf("expert %q tensor %q: %w", e.ID, ts.Name, err)
			}
		}
	}
	return nil
}

func (e *Expert) clone() *Expert {
	c := &Expert{ID: e.ID, Slots: make([]Slot, len(e.Slots))}
	for i, s := range e.Slots {
		ts := make([]TensorSpec, len(s.Tensors))
		for j, t := range s.Tensors {
			ts[j] = TensorSpec{Name: t.Name, Shape: slices.Clone(t.Shape), DType: t.DType}
		}
		c.Slots[i] = Slot{Shard: s.Shard, Tensors: ts}
	}
	return c
}

func (e *Expert) equal(o *Expert) bool {
	if e.ID != o.ID || len(e.Slots) != len(o.Slots) {
		return false
	}
	for i := range e.Slots {
		a, b := e.Slots[i], o.Slots[i]
		if a.Shard != b.Shard || len(a.Tensors) != len(b.Tensors) {
			return false
		}
		for j := range a.Tensors {
			x, y := a.Tensors[j], b.Tensors[j]
			if x.Name != y.Name || x.DType != y.DType || !slices.Equal(x.Shape, y.Shape) {
				return false
			}
		}
	}
	return true
}

// Catalog holds published expert definitions. A definition cannot change
// once published.
type Catalog struct {
	mu      sync.RWMutex
	experts map[auria.ExpertID]*Expert
}

func NewCatalog() *Catalog {
	return &Catalog{experts: make(map[auria.ExpertID]*Expert)}
}

// Publish stores e. Publishing an identical definition again is a no-op;
// a different definition under a published id fails.
func (c *Catalog) Publish(e *Expert) error {
	if err := e.Check(); err != nil {
		return err
	}
	own := e.clone()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.experts[own.ID]; ok {
		if prev.equal(own) {
			return nil
		}
		return fmt.Errorf("expert %q is already published with a different definition", own.ID)
	}
	c.experts[own.ID] = own
	return nil
}

// Lookup returns a copy of the published definition of id.
func (c *Catalog) Lookup(id auria.ExpertID) (*Expert, error) {
	c.mu.RLock()
	e, ok := c.experts[id]
	c.mu.RUnlock()
	if !ok {
		return nil, auria.ExpertNotFound(id)
	}
	return e.clone(), nil
}

// IDs returns the published expert ids.
func (c *Catalog) IDs() []auria.ExpertID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]auria.ExpertID, 0, len(c.experts))
	for id := range c.experts {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
