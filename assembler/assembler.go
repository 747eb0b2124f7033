// Package assembler composes licensed shards into an executable expert.
//
// Assembly is all-or-nothing: either every slot of the expert resolves to a
// present shard with a valid license and matching tensors, or the caller
// gets an error and nothing else.
package assembler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auria.dev/core/auria"
	"auria.dev/core/hardware"
	"auria.dev/core/license"
	"auria.dev/core/shard"
)

// Registry is the part of the shard registry the assembler reads.
type Registry interface {
	Await(ctx context.Context, id auria.ShardID) (*shard.Shard, error)
	Licenses(id auria.ShardID) []*license.License
}

// Resolver grants hardware tiers.
type Resolver interface {
	Resolve(p *hardware.Profile, tier auria.Tier) (hardware.Grant, error)
}

// Commitment is a license an assembly will consume when settled. Quota is
// the license quota at validation time; zero means unbounded.
type Commitment struct {
	License auria.LicenseID
	Shard   auria.ShardID
	Bundle  auria.BundleID
	Quota   uint64
}

func (c Commitment) Bounded() bool { return c.Quota > 0 }

// AssembledExpert is a fully validated expert ready for execution. Shards
// and Commitments are in slot order.
type AssembledExpert struct {
	ID             uuid.UUID
	Expert         auria.ExpertID
	Node           auria.NodeID
	Tier           auria.Tier
	ProfileVersion uint64
	Shards         []*shard.Shard
	Commitments    []Commitment
}

// ShardIDs returns the assembled shard ids in slot order.
func (a *AssembledExpert) ShardIDs() []auria.ShardID {
	out := make([]auria.ShardID, len(a.Shards))
	for i, s := range a.Shards {
		out[i] = s.ID()
	}
	return out
}

// Request asks for one assembly.
type Request struct {
	Expert  auria.ExpertID
	Node    auria.NodeID
	Tier    auria.Tier
	Profile *hardware.Profile
}

const DefaultParallelism = 8

type Options struct {
	Validator license.Validator
	// Clock returns the validation time; time.Now when nil.
	Clock func() time.Time
	// Parallelism bounds concurrent slot workers per assembly.
	Parallelism int
	Logger      *zap.Logger
}

type Assembler struct {
	catalog  *Catalog
	registry Registry
	resolver Resolver
	opts     Options
	logger   *zap.Logger
}

func New(catalog *Catalog, registry Registry, resolver Resolver, opts Options) *Assembler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		catalog:  catalog,
		registry: registry,
		resolver: resolver,
		opts:     opts,
		logger:   logger.Named("assembler"),
	}
}

type slotResult struct {
	shard      *shard.Shard
	commitment Commitment
	err        error
}

// Assemble resolves hardware first and touches no shard state if the tier
// is not granted. Slots are then processed concurrently; when several fail,
// the error of the lowest slot index is returned.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*AssembledExpert, error) {
	if req.Profile != nil && req.Profile.Node != req.Node {
		e := auria.InsufficientHardware(req.Tier, fmt.Sprintf("profile describes node %q", req.Profile.Node))
		e.Node = req.Node
		return nil, e
	}
	grant, err := a.resolver.Resolve(req.Profile, req.Tier)
	if err != nil {
		return nil, err
	}

	expert, err := a.catalog.Lookup(req.Expert)
	if err != nil {
		return nil, err
	}

	now := a.opts.Clock()
	results := make([]slotResult, len(expert.Slots))
	var g errgroup.Group
	g.SetLimit(a.opts.Parallelism)
	for i := range expert.Slots {
		slot := expert.Slots[i]
		g.Go(func() error {
			results[i] = a.resolveSlot(ctx, expert.ID, slot, req, now)
			// Never fail the group: siblings must run to completion so the
			// leftmost error is the same on every run.
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
	}

	out := &AssembledExpert{
		ID:             uuid.New(),
		Expert:         expert.ID,
		Node:           req.Node,
		Tier:           grant.Tier,
		ProfileVersion: grant.ProfileVersion,
		Shards:         make([]*shard.Shard, len(results)),
		Commitments:    make([]Commitment, len(results)),
	}
	for i, r := range results {
		out.Shards[i] = r.shard
		out.Commitments[i] = r.commitment
	}

	if err := checkStructure(expert, out.Shards, req.Profile); err != nil {
		return nil, err
	}

	a.logger.Debug("expert assembled",
		zap.String("assembly", out.ID.String()),
		zap.String("expert", string(out.Expert)),
		zap.String("node", string(out.Node)),
		zap.Stringer("tier", out.Tier),
		zap.Int("shards", len(out.Shards)))
	return out, nil
}

func (a *Assembler) resolveSlot(ctx context.Context, expert auria.ExpertID, slot Slot, req Request, now time.Time) slotResult {
	s, err := a.registry.Await(ctx, slot.Shard)
	if err != nil {
		if _, ok := auria.As(err); !ok {
			err = auria.ShardNotFound(slot.Shard, err)
		}
		return slotResult{err: err}
	}

	if !s.MemberOf(expert) {
		e := auria.ExecutionError(fmt.Sprintf("shard %q is not part of expert %q", slot.Shard, expert), nil)
		e.Shard, e.Expert = slot.Shard, expert
		return slotResult{err: e}
	}
	if !req.Tier.AtLeast(s.MinTier()) {
		e := auria.InsufficientHardware(req.Tier, fmt.Sprintf("shard %q requires tier %s", slot.Shard, s.MinTier()))
		e.Shard, e.Node = slot.Shard, req.Node
		return slotResult{err: e}
	}

	lics := a.registry.Licenses(slot.Shard)
	if len(lics) == 0 {
		e := auria.LicenseInvalid(slot.Shard, license.ReasonNoLicense, "no license bound")
		e.Node = req.Node
		return slotResult{err: e}
	}
	requester := license.Requester{Node: req.Node, Tier: req.Tier}
	var firstErr error
	for _, l := range lics {
		err := a.opts.Validator.Validate(l, slot.Shard, requester, now)
		if err == nil {
			return slotResult{shard: s, commitment: Commitment{
				License: l.ID,
				Shard:   slot.Shard,
				Bundle:  l.Bundle,
				Quota:   l.Quota,
			}}
		}
		if !auria.IsKind(err, auria.KindLicenseInvalid) {
			return slotResult{err: err}
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return slotResult{err: firstErr}
}

// checkStructure verifies every tensor the expert expects exists with the
// expected shape and dtype and that the node can operate on its dtype.
func checkStructure(expert *Expert, shards []*shard.Shard, profile *hardware.Profile) error {
	for i, slot := range expert.Slots {
		s := shards[i]
		for _, ts := range slot.Tensors {
			fail := func(msg string) error {
				e := auria.ExecutionError(msg, nil)
				e.Shard, e.Expert = slot.Shard, expert.ID
				return e
			}
			t, ok := s.Tensor(ts.Name)
			if !ok {
				return fail(fmt.Sprintf("shard %q has no tensor %q", slot.Shard, ts.Name))
			}
			if want := ts.spec(); !want.Matches(t) {
				return fail(fmt.Sprintf("tensor %q in shard %q is %s, expected %s", ts.Name, slot.Shard, t.Spec(), want))
			}
			if profile != nil && !profile.Supports(t.DType()) {
				return fail(fmt.Sprintf("tensor %q in shard %q uses %s, unsupported by node", ts.Name, slot.Shard, t.DType()))
			}
		}
	}
	return nil
}
