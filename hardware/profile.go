// Package hardware decides whether a node's hardware profile can be granted
// a service tier, and supplies profiles to the engine.
package hardware

import (
	"slices"

	"auria.dev/core/auria"
	"auria.dev/core/tensor"
)

// CPU describes the host processor.
type CPU struct {
	Vendor   string   `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Brand    string   `yaml:"brand,omitempty" json:"brand,omitempty"`
	Cores    uint32   `yaml:"cores,omitempty" json:"cores,omitempty"`
	Threads  uint32   `yaml:"threads,omitempty" json:"threads,omitempty"`
	Features []string `yaml:"features,omitempty" json:"features,omitempty"`
}

// GPU describes an accelerator. ComputeCapability is (major, minor).
type GPU struct {
	Vendor            string   `yaml:"vendor,omitempty" json:"vendor,omitempty"`
	Name              string   `yaml:"name,omitempty" json:"name,omitempty"`
	VRAMBytes         uint64   `yaml:"vram_bytes,omitempty" json:"vram_bytes,omitempty"`
	ComputeCapability [2]uint8 `yaml:"compute_capability,omitempty" json:"compute_capability,omitempty"`
}

// Profile is a read-only snapshot of a node's capability. A refresh produces
// a new Profile with a higher Version; a Profile value is never changed
// after it has been handed out.
type Profile struct {
	Node    auria.NodeID `yaml:"node" json:"node"`
	Version uint64       `yaml:"-" json:"version"`

	// Compute is the node's compute class on an abstract, monotonic scale.
	Compute     uint32         `yaml:"compute" json:"compute"`
	MemoryBytes uint64         `yaml:"memory_bytes" json:"memory_bytes"`
	DTypes      []tensor.DType `yaml:"dtypes" json:"dtypes"`

	CPU *CPU `yaml:"cpu,omitempty" json:"cpu,omitempty"`
	GPU *GPU `yaml:"gpu,omitempty" json:"gpu,omitempty"`
}

// Supports reports whether the node can operate on dt.
func (p *Profile) Supports(dt tensor.DType) bool {
	return slices.Contains(p.DTypes, dt)
}

// clone returns a deep copy so snapshots never share mutable slices.
func (p *Profile) clone() *Profile {
	c := *p
	c.DTypes = slices.Clone(p.DTypes)
	if p.CPU != nil {
		cpu := *p.CPU
		cpu.Features = slices.Clone(p.CPU.Features)
		c.CPU = &cpu
	}
	if p.GPU != nil {
		gpu := *p.GPU
		c.GPU = &gpu
	}
	return &c
}

// Source supplies the current profile of a node.
type Source interface {
	Profile(node auria.NodeID) (*Profile, bool)
}

// StaticProfiles is a fixed Source. Profiles are copied in and out.
type StaticProfiles struct {
	profiles map[auria.NodeID]*Profile
}

var _ Source = (*StaticProfiles)(nil)

func NewStaticProfiles(profiles ...*Profile) *StaticProfiles {
	s := &StaticProfiles{profiles: make(map[auria.NodeID]*Profile, len(profiles))}
	for _, p := range profiles {
		s.profiles[p.Node] = p.clone()
	}
	return s
}

func (s *StaticProfiles) Profile(node auria.NodeID) (*Profile, bool) {
	p, ok := s.profiles[node]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}
