package license

import (
	"errors"
	"testing"
	"time"

	"auria.dev/core/auria"
)

type fixedUsage map[auria.LicenseID]uint64

func (f fixedUsage) Consumed(id auria.LicenseID) (uint64, error) { return f[id], nil }

type failingUsage struct{}

func (failingUsage) Consumed(auria.LicenseID) (uint64, error) { return 0, errors.New("disk gone") }

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func baseLicense() *License {
	return &License{
		ID:        "L1",
		Shard:     "S1",
		Scope:     Scope{Nodes: []auria.NodeID{"n1", "n2"}},
		NotBefore: date(2024, 1, 1),
		NotAfter:  date(2024, 12, 31),
	}
}

func TestValidate_Order(t *testing.T) {
	now := date(2024, 6, 1)
	req := Requester{Node: "n1", Tier: auria.Standard}

	tests := []struct {
		name   string
		mutate func(l *License)
		shard  auria.ShardID
		req    Requester
		now    time.Time
		usage  UsageReader
		reason string
	}{
		{name: "valid", shard: "S1", req: req, now: now},
		{name: "wrong shard", shard: "S2", req: req, now: now, reason: ReasonShardMismatch},
		{name: "wrong shard wins over expiry", mutate: func(l *License) { l.NotAfter = date(2023, 12, 31) }, shard: "S2", req: req, now: now, reason: ReasonShardMismatch},
		{name: "foreign node", shard: "S1", req: Requester{Node: "n9", Tier: auria.Standard}, now: now, reason: ReasonOutOfScope},
		{name: "tier not allowed", mutate: func(l *License) { l.Scope.Tiers = []auria.Tier{auria.Pro} }, shard: "S1", req: req, now: now, reason: ReasonOutOfScope},
		{name: "tier allowed", mutate: func(l *License) { l.Scope.Tiers = []auria.Tier{auria.Standard, auria.Pro} }, shard: "S1", req: req, now: now},
		{name: "scope wins over expiry", mutate: func(l *License) { l.NotAfter = date(2023, 12, 31) }, shard: "S1", req: Requester{Node: "n9"}, now: now, reason: ReasonOutOfScope},
		{name: "before window", shard: "S1", req: req, now: date(2023, 6, 1), reason: ReasonNotYetValid},
		{name: "at not_before", shard: "S1", req: req, now: date(2024, 1, 1)},
		{name: "at not_after", shard: "S1", req: req, now: date(2024, 12, 31), reason: ReasonExpired},
		{name: "expired", mutate: func(l *License) { l.NotAfter = date(2023, 12, 31); l.NotBefore = date(2023, 1, 1) }, shard: "S1", req: req, now: now, reason: ReasonExpired},
		{name: "quota left", mutate: func(l *License) { l.Quota = 2 }, shard: "S1", req: req, now: now, usage: fixedUsage{"L1": 1}},
		{name: "quota exhausted", mutate: func(l *License) { l.Quota = 2 }, shard: "S1", req: req, now: now, usage: fixedUsage{"L1": 2}, reason: ReasonQuotaExhausted},
		{name: "expiry wins over quota", mutate: func(l *License) { l.Quota = 1 }, shard: "S1", req: req, now: date(2025, 1, 1), usage: fixedUsage{"L1": 1}, reason: ReasonExpired},
		{name: "unbounded ignores usage", shard: "S1", req: req, now: now, usage: fixedUsage{"L1": 1 << 40}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lic := baseLicense()
			if tc.mutate != nil {
				tc.mutate(lic)
			}
			err := Validator{Usage: tc.usage}.Validate(lic, tc.shard, tc.req, tc.now)
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			e, ok := auria.As(err)
			if !ok || e.Kind != auria.KindLicenseInvalid {
				t.Fatalf("expected LicenseInvalid, got %v", err)
			}
			if e.Reason != tc.reason {
				t.Fatalf("reason: got %q want %q", e.Reason, tc.reason)
			}
			if e.Shard != tc.shard {
				t.Fatalf("shard: got %q want %q", e.Shard, tc.shard)
			}
		})
	}
}

func TestValidate_NilLicense(t *testing.T) {
	err := Validator{}.Validate(nil, "S1", Requester{Node: "n1"}, time.Now())
	e, ok := auria.As(err)
	if !ok || e.Reason != ReasonNoLicense || e.Shard != "S1" {
		t.Fatalf("expected no-license for S1, got %v", err)
	}
}

func TestValidate_UsageReadFailureIsStorageError(t *testing.T) {
	lic := baseLicense()
	lic.Quota = 1
	err := Validator{Usage: failingUsage{}}.Validate(lic, "S1", Requester{Node: "n1"}, date(2024, 6, 1))
	if !auria.IsKind(err, auria.KindStorage) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestValidate_DoesNotConsume(t *testing.T) {
	lic := baseLicense()
	lic.Quota = 1
	usage := fixedUsage{}
	v := Validator{Usage: usage}
	for i := 0; i < 5; i++ {
		if err := v.Validate(lic, "S1", Requester{Node: "n1"}, date(2024, 6, 1)); err != nil {
			t.Fatalf("validation %d: %v", i, err)
		}
	}
	if usage["L1"] != 0 {
		t.Fatalf("validation consumed quota")
	}
}

func TestValidate_RateLimit(t *testing.T) {
	lic := baseLicense()
	lic.RateLimit = &RateLimit{RequestsPerSecond: 1, Burst: 2}
	v := Validator{Limits: NewLimiters()}
	now := date(2024, 6, 1)
	req := Requester{Node: "n1"}

	for i := 0; i < 2; i++ {
		if err := v.Validate(lic, "S1", req, now); err != nil {
			t.Fatalf("request %d within burst: %v", i, err)
		}
	}
	err := v.Validate(lic, "S1", req, now)
	e, ok := auria.As(err)
	if !ok || e.Reason != ReasonRateLimited || e.License != "L1" {
		t.Fatalf("expected rate-limited, got %v", err)
	}
	if err := v.Validate(lic, "S1", req, now.Add(time.Second)); err != nil {
		t.Fatalf("bucket did not refill: %v", err)
	}

	// Earlier checks win and spend nothing.
	expired := date(2025, 1, 1)
	for i := 0; i < 3; i++ {
		e, _ := auria.As(v.Validate(lic, "S1", req, expired))
		if e == nil || e.Reason != ReasonExpired {
			t.Fatalf("expected expired, got %v", e)
		}
	}

	// Without limiters the terms are not enforced.
	for i := 0; i < 5; i++ {
		if err := (Validator{}).Validate(lic, "S1", req, now); err != nil {
			t.Fatalf("unlimited validator: %v", err)
		}
	}
}

func TestLimiters_NewTermsGetFreshBucket(t *testing.T) {
	ls := NewLimiters()
	lic := baseLicense()
	lic.RateLimit = &RateLimit{RequestsPerSecond: 1, Burst: 1}
	now := date(2024, 6, 1)
	if !ls.Allow(lic, now) || ls.Allow(lic, now) {
		t.Fatalf("burst of one not enforced")
	}
	lic.RateLimit = &RateLimit{RequestsPerSecond: 1, Burst: 3}
	if !ls.Allow(lic, now) {
		t.Fatalf("renewed terms kept the old bucket")
	}
	lic.RateLimit = nil
	if !ls.Allow(lic, now) {
		t.Fatalf("license without a rate limit was refused")
	}
}
