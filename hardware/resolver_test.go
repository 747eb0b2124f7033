package hardware

import (
	"sync"
	"testing"

	"auria.dev/core/auria"
	"auria.dev/core/tensor"
)

func standardProfile(node auria.NodeID) *Profile {
	return &Profile{
		Node:        node,
		Version:     1,
		Compute:     4,
		MemoryBytes: 8 * gib,
		DTypes:      []tensor.DType{tensor.FP16, tensor.INT8, tensor.INT4},
	}
}

func TestResolve_Dominance(t *testing.T) {
	r, err := NewResolver(nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(p *Profile)
		tier   auria.Tier
		ok     bool
	}{
		{name: "meets standard", tier: auria.Standard, ok: true},
		{name: "meets nano", tier: auria.Nano, ok: true},
		{name: "short of pro", tier: auria.Pro, ok: false},
		{name: "low compute", mutate: func(p *Profile) { p.Compute = 3 }, tier: auria.Standard, ok: false},
		{name: "low memory", mutate: func(p *Profile) { p.MemoryBytes = 8*gib - 1 }, tier: auria.Standard, ok: false},
		{name: "missing dtype", mutate: func(p *Profile) { p.DTypes = []tensor.DType{tensor.INT4} }, tier: auria.Standard, ok: false},
		{name: "extra capability", mutate: func(p *Profile) { p.Compute = 1000 }, tier: auria.Standard, ok: true},
	}
	for i, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := standardProfile("n")
			p.Version = uint64(i + 1)
			if tc.mutate != nil {
				tc.mutate(p)
			}
			g, err := r.Resolve(p, tc.tier)
			if tc.ok {
				if err != nil {
					t.Fatalf("Resolve: %v", err)
				}
				if g.Tier != tc.tier || g.ProfileVersion != p.Version {
					t.Fatalf("unexpected grant %+v", g)
				}
				return
			}
			e, ok := auria.As(err)
			if !ok || e.Kind != auria.KindInsufficientHardware || e.Tier != tc.tier {
				t.Fatalf("expected InsufficientHardware(%s), got %v", tc.tier, err)
			}
		})
	}
}

func TestResolve_NilProfile(t *testing.T) {
	r, _ := NewResolver(nil)
	if _, err := r.Resolve(nil, auria.Nano); !auria.IsKind(err, auria.KindInsufficientHardware) {
		t.Fatalf("expected InsufficientHardware, got %v", err)
	}
}

func TestResolve_CachedByVersion(t *testing.T) {
	r, _ := NewResolver(nil)
	p := standardProfile("n")

	if _, err := r.Resolve(p, auria.Standard); err != nil {
		t.Fatal(err)
	}
	// Same node and version: the cached verdict stands.
	weaker := standardProfile("n")
	weaker.Compute = 0
	if _, err := r.Resolve(weaker, auria.Standard); err != nil {
		t.Fatalf("expected cached grant, got %v", err)
	}
	// A refreshed snapshot is evaluated anew.
	weaker.Version = 2
	if _, err := r.Resolve(weaker, auria.Standard); err == nil {
		t.Fatalf("expected new version to be re-evaluated")
	}
}

func TestResolve_ReturnedErrorsAreIndependent(t *testing.T) {
	r, _ := NewResolver(nil)
	p := standardProfile("n")
	_, err1 := r.Resolve(p, auria.Max)
	e1, _ := auria.As(err1)
	e1.Message = "changed by caller"
	_, err2 := r.Resolve(p, auria.Max)
	e2, _ := auria.As(err2)
	if e2.Message == "changed by caller" {
		t.Fatalf("cached error was shared with a caller")
	}
}

func TestResolve_Concurrent(t *testing.T) {
	r, _ := NewResolver(nil)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := standardProfile("n")
			p.Version = uint64(i % 4)
			for _, tier := range auria.Tiers {
				_, err := r.Resolve(p, tier)
				if want := tier <= auria.Standard; (err == nil) != want {
					t.Errorf("tier %s: err=%v", tier, err)
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestNewResolver_RequiresEveryTier(t *testing.T) {
	reqs := DefaultRequirements()
	delete(reqs, auria.Max)
	if _, err := NewResolver(reqs); err == nil {
		t.Fatalf("expected missing tier to fail")
	}
}

func TestStaticProfiles_CopiesOut(t *testing.T) {
	s := NewStaticProfiles(standardProfile("a"))
	p, ok := s.Profile("a")
	if !ok {
		t.Fatal("missing profile")
	}
	p.DTypes[0] = tensor.FP8
	again, _ := s.Profile("a")
	if again.DTypes[0] != tensor.FP16 {
		t.Fatalf("profile snapshot was mutated through a returned copy")
	}
	if _, ok := s.Profile("b"); ok {
		t.Fatalf("unexpected profile for unknown node")
	}
}
