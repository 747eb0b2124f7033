package hardware

import (
	"fmt"
	"sync"

	"auria.dev/core/auria"
	"auria.dev/core/tensor"
)

const gib = 1 << 30

// Requirement is the minimum capability vector for a tier.
type Requirement struct {
	Compute     uint32         `yaml:"compute" json:"compute"`
	MemoryBytes uint64         `yaml:"memory_bytes" json:"memory_bytes"`
	DTypes      []tensor.DType `yaml:"dtypes" json:"dtypes"`
}

// DefaultRequirements returns the built-in tier table.
func DefaultRequirements() map[auria.Tier]Requirement {
	return map[auria.Tier]Requirement{
		auria.Nano:     {Compute: 1, MemoryBytes: 2 * gib, DTypes: []tensor.DType{tensor.INT4}},
		auria.Standard: {Compute: 4, MemoryBytes: 8 * gib, DTypes: []tensor.DType{tensor.INT8, tensor.INT4}},
		auria.Pro:      {Compute: 16, MemoryBytes: 24 * gib, DTypes: []tensor.DType{tensor.FP16, tensor.INT8, tensor.INT4}},
		auria.Max:      {Compute: 64, MemoryBytes: 80 * gib, DTypes: []tensor.DType{tensor.FP16, tensor.FP8, tensor.INT8, tensor.INT4}},
	}
}

// Grant is a successful tier resolution.
type Grant struct {
	Tier           auria.Tier
	Node           auria.NodeID
	ProfileVersion uint64
}

type cacheKey struct {
	node    auria.NodeID
	version uint64
	tier    auria.Tier
}

const maxCacheEntries = 4096

// Resolver checks profiles against the tier table. It is safe for concurrent
// use; results are cached per (node, profile version, tier).
type Resolver struct {
	reqs map[auria.Tier]Requirement

	mu    sync.RWMutex
	cache map[cacheKey]error
}

// NewResolver builds a resolver. A nil table selects DefaultRequirements;
// otherwise every tier must be present.
func NewResolver(reqs map[auria.Tier]Requirement) (*Resolver, error) {
	if reqs == nil {
		reqs = DefaultRequirements()
	}
	own := make(map[auria.Tier]Requirement, len(reqs))
	for _, t := range auria.Tiers {
		r, ok := reqs[t]
		if !ok {
			return nil, fmt.Errorf("hardware: no requirement for tier %s", t)
		}
		for _, dt := range r.DTypes {
			if !dt.Valid() {
				return nil, fmt.Errorf("hardware: tier %s lists invalid dtype %d", t, dt)
			}
		}
		r.DTypes = append([]tensor.DType(nil), r.DTypes...)
		own[t] = r
	}
	return &Resolver{reqs: own, cache: make(map[cacheKey]error)}, nil
}

// Requirement returns the requirement vector for tier.
func (r *Resolver) Requirement(tier auria.Tier) (Requirement, bool) {
	req, ok := r.reqs[tier]
	return req, ok
}

// Resolve grants tier when p dominates its requirement in every dimension.
// Failure is an InsufficientHardware error naming the first short dimension.
func (r *Resolver) Resolve(p *Profile, tier auria.Tier) (Grant, error) {
	if p == nil {
		return Grant{}, auria.InsufficientHardware(tier, "no hardware profile")
	}
	key := cacheKey{node: p.Node, version: p.Version, tier: tier}

	r.mu.RLock()
	err, hit := r.cache[key]
	r.mu.RUnlock()
	if !hit {
		err = r.check(p, tier)
		r.mu.Lock()
		if len(r.cache) >= maxCacheEntries {
			clear(r.cache)
		}
		r.cache[key] = err
		r.mu.Unlock()
	}
	if err != nil {
		// Cached errors are shared; hand out a copy.
		if ae, ok := auria.As(err); ok {
			c := *ae
			return Grant{}, &c
		}
		return Grant{}, err
	}
	return Grant{Tier: tier, Node: p.Node, ProfileVersion: p.Version}, nil
}

func (r *Resolver) check(p *Profile, tier auria.Tier) error {
	req, ok := r.reqs[tier]
	if !ok {
		return auria.InsufficientHardware(tier, "unknown tier")
	}
	if p.Compute < req.Compute {
		return insufficient(p, tier, fmt.Sprintf("compute %d < required %d", p.Compute, req.Compute))
	}
	if p.MemoryBytes < req.MemoryBytes {
		return insufficient(p, tier, fmt.Sprintf("memory %d < required %d bytes", p.MemoryBytes, req.MemoryBytes))
	}
	for _, dt := range req.DTypes {
		if !p.Supports(dt) {
			return insufficient(p, tier, fmt.Sprintf("dtype %s not supported", dt))
		}
	}
	return nil
}

func insufficient(p *Profile, tier auria.Tier, msg string) *auria.Error {
	e := auria.InsufficientHardware(tier, msg)
	e.Node = p.Node
	return e
}
