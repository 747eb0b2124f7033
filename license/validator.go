package license

import (
	"fmt"
	"time"

	"auria.dev/core/auria"
)

// Reasons attached to LicenseInvalid errors.
const (
	ReasonShardMismatch   = "shard-mismatch"
	ReasonOutOfScope      = "out-of-scope"
	ReasonNotYetValid     = "not-yet-valid"
	ReasonExpired         = "expired"
	ReasonQuotaExhausted  = "quota-exhausted"
	ReasonNoLicense       = "no-license"
	ReasonBadSignature    = "bad-signature"
	ReasonUntrustedIssuer = "untrusted-issuer"
	ReasonMalformed       = "malformed"
	ReasonRateLimited     = "rate-limited"
)

// Requester identifies who is asking to use a shard.
type Requester struct {
	Node auria.NodeID
	Tier auria.Tier
}

// UsageReader reports how many quota units of a license have been settled.
type UsageReader interface {
	Consumed(id auria.LicenseID) (uint64, error)
}

// Validator applies a license to one request. It never consumes quota; the
// settlement ledger does that at commit time.
type Validator struct {
	// Usage supplies consumed units for bounded licenses. When nil, nothing
	// is considered consumed.
	Usage UsageReader
	// Limits enforces RateLimit terms. When nil, rate limits are not
	// checked.
	Limits *Limiters
}

// Validate checks, in order and stopping at the first failure: the license
// is for shard, the requester is in scope, now is inside the validity
// window, a bounded license has quota left, and a rate-limited license has
// a request to spend. Only a license that passes every check spends one.
func (v Validator) Validate(lic *License, shard auria.ShardID, req Requester, now time.Time) error {
	if lic == nil {
		return auria.LicenseInvalid(shard, ReasonNoLicense, "no license bound")
	}
	fail := func(reason, msg string) error {
		e := auria.LicenseInvalid(shard, reason, msg)
		e.License = lic.ID
		e.Node = req.Node
		return e
	}

	if lic.Shard != shard {
		return fail(ReasonShardMismatch, fmt.Sprintf("license is for shard %q", lic.Shard))
	}
	if !lic.Covers(req.Node, req.Tier) {
		return fail(ReasonOutOfScope, fmt.Sprintf("node %q at tier %s not in scope", req.Node, req.Tier))
	}
	if now.Before(lic.NotBefore) {
		return fail(ReasonNotYetValid, "valid from "+lic.NotBefore.UTC().Format(time.RFC3339))
	}
	if !now.Before(lic.NotAfter) {
		return fail(ReasonExpired, "expired at "+lic.NotAfter.UTC().Format(time.RFC3339))
	}
	if lic.Bounded() {
		var used uint64
		if v.Usage != nil {
			n, err := v.Usage.Consumed(lic.ID)
			if err != nil {
				return auria.StorageError(fmt.Sprintf("read usage of license %q", lic.ID), err)
			}
			used = n
		}
		if used >= lic.Quota {
			return fail(ReasonQuotaExhausted, fmt.Sprintf("quota %d exhausted", lic.Quota))
		}
	}
	if v.Limits != nil && !v.Limits.Allow(lic, now) {
		rl := lic.RateLimit
		return fail(ReasonRateLimited, fmt.Sprintf("over %d requests/s (burst %d)", rl.RequestsPerSecond, rl.Burst))
	}
	return nil
}
