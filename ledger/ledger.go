// Package ledger settles executions: it charges license quota, appends an
// immutable receipt to the node's hash chain and makes both durable in one
// step, exactly once per idempotency key.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"auria.dev/core/assembler"
	"auria.dev/core/auria"
	"auria.dev/core/keys"
	"auria.dev/core/license"
)

// Outcome reports how an execution went. A non-nil Err means nothing is
// billable.
type Outcome struct {
	Err           error
	InputsDigest  string
	OutputsDigest string
	Tokens        uint64
}

type Options struct {
	// Clock stamps receipts; time.Now when nil.
	Clock func() time.Time
	// Signer signs each receipt hash when set.
	Signer keys.Signer
	Logger *zap.Logger
}

// Ledger is the single mutation point for quota and receipts.
type Ledger struct {
	store    Store
	opts     Options
	logger   *zap.Logger
	nodes    lockSet[auria.NodeID]
	licenses lockSet[auria.LicenseID]
}

func New(store Store, opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, opts: opts, logger: logger.Named("ledger")}
}

// lockSet hands out one mutex per key. Entries are never removed.
type lockSet[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func (s *lockSet[K]) get(k K) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[K]*sync.Mutex)
	}
	m, ok := s.locks[k]
	if !ok {
		m = &sync.Mutex{}
		s.locks[k] = m
	}
	return m
}

func storageErr(key IdempotencyKey, msg string, err error) *auria.Error {
	e := auria.StorageError(msg, err)
	e.Node = key.Node
	e.Ref = key.String()
	return e
}

// Commit settles one execution of a. A key already committed returns the
// stored receipt and changes nothing. Otherwise, holding the node lock and
// then every charged license's lock in sorted order, it checks quota for
// all licenses and appends the receipt; if any license is exhausted nothing
// is charged. StorageError results carry the key in Ref and are safe to
// retry with the same key.
func (l *Ledger) Commit(ctx context.Context, a *assembler.AssembledExpert, out Outcome, key IdempotencyKey) (*Receipt, error) {
	if err := key.check(); err != nil {
		return nil, auria.ExecutionError("invalid idempotency key", err)
	}
	if a == nil {
		return nil, auria.ExecutionError("nothing to settle", nil)
	}
	if key.Node != a.Node {
		e := auria.ExecutionError(fmt.Sprintf("key node %q does not match assembly node %q", key.Node, a.Node), nil)
		e.Node = key.Node
		return nil, e
	}

	nodeMu := l.nodes.get(key.Node)
	nodeMu.Lock()
	defer nodeMu.Unlock()

	prev, err := l.store.ByKey(ctx, key)
	if err != nil {
		return nil, storageErr(key, "read idempotency key", err)
	}
	if prev != nil {
		l.logger.Debug("duplicate commit", zap.Stringer("key", key), zap.Uint64("seq", prev.Seq))
		return prev, nil
	}

	if out.Err != nil {
		e := auria.ExecutionError("execution failed; nothing settled", out.Err)
		e.Expert, e.Node = a.Expert, a.Node
		return nil, e
	}

	settledKey, settled, err := l.store.SettledBy(ctx, a.ID)
	if err != nil {
		return nil, storageErr(key, "read assembly settlement", err)
	}
	if settled {
		e := auria.ExecutionError(fmt.Sprintf("assembly %s already settled under %s", a.ID, settledKey), nil)
		e.Expert, e.Node = a.Expert, a.Node
		return nil, e
	}

	charges := make([]SettledLicense, 0, len(a.Commitments))
	quotas := make(map[auria.LicenseID]uint64, len(a.Commitments))
	for _, c := range a.Commitments {
		charges = append(charges, SettledLicense{License: c.License, Shard: c.Shard, Bundle: c.Bundle, Units: 1})
		quotas[c.License] = c.Quota
	}
	ids := make([]auria.LicenseID, 0, len(quotas))
	for id := range quotas {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		m := l.licenses.get(id)
		m.Lock()
		defer m.Unlock()
	}

	for _, c := range a.Commitments {
		if !c.Bounded() {
			continue
		}
		used, err := l.store.Consumed(ctx, c.License)
		if err != nil {
			return nil, storageErr(key, fmt.Sprintf("read usage of license %q", c.License), err)
		}
		var want uint64
		for _, ch := range charges {
			if ch.License == c.License {
				want += ch.Units
			}
		}
		if used+want > c.Quota {
			e := auria.LicenseInvalid(c.Shard, license.ReasonQuotaExhausted, fmt.Sprintf("quota %d exhausted", c.Quota))
			e.License = c.License
			e.Node = key.Node
			return nil, e
		}
	}

	h, err := l.store.Head(ctx, key.Node)
	if err != nil {
		return nil, storageErr(key, "read chain head", err)
	}
	r := &Receipt{
		Request:       a.ID,
		Node:          a.Node,
		Seq:           h.Seq + 1,
		Key:           key,
		Expert:        a.Expert,
		Tier:          a.Tier,
		Shards:        a.ShardIDs(),
		Licenses:      charges,
		InputsDigest:  out.InputsDigest,
		OutputsDigest: out.OutputsDigest,
		Tokens:        out.Tokens,
		CommittedAt:   l.opts.Clock().UTC().Truncate(time.Microsecond),
		Prev:          h.Hash,
	}
	if r.Hash, err = ContentHash(r); err != nil {
		return nil, auria.ExecutionError("hash receipt", err)
	}
	if s := l.opts.Signer; s != nil {
		sig, err := s.Sign([]byte(r.Hash))
		if err != nil {
			return nil, auria.ExecutionError("sign receipt", err)
		}
		r.Signer, r.HashAlg, r.Signature = s.PublicKey(), s.HashAlg(), sig
	}

	if err := l.store.Append(ctx, r); err != nil {
		return nil, storageErr(key, "append receipt", err)
	}
	l.logger.Info("settled",
		zap.Stringer("key", key),
		zap.Uint64("seq", r.Seq),
		zap.String("expert", string(r.Expert)),
		zap.Int("licenses", len(r.Licenses)),
		zap.String("hash", r.Hash))
	return cloneReceipt(r), nil
}

// Consumed reports settled units of a license. It satisfies
// license.UsageReader.
func (l *Ledger) Consumed(id auria.LicenseID) (uint64, error) {
	return l.store.Consumed(context.Background(), id)
}

// Usage reports a license's settled units, requests and tokens.
func (l *Ledger) Usage(ctx context.Context, id auria.LicenseID) (Usage, error) {
	u, err := l.store.Usage(ctx, id)
	if err != nil {
		e := auria.StorageError(fmt.Sprintf("read usage of license %q", id), err)
		e.License = id
		return Usage{}, e
	}
	return u, nil
}

// Receipts returns a node's receipts in sequence order.
func (l *Ledger) Receipts(ctx context.Context, node auria.NodeID) ([]*Receipt, error) {
	rs, err := l.store.Receipts(ctx, node)
	if err != nil {
		e := auria.StorageError("read receipts", err)
		e.Node = node
		return nil, e
	}
	return rs, nil
}

// Nodes lists nodes with receipts.
func (l *Ledger) Nodes(ctx context.Context) ([]auria.NodeID, error) {
	ns, err := l.store.Nodes(ctx)
	if err != nil {
		return nil, auria.StorageError("list nodes", err)
	}
	return ns, nil
}

// ErrTampered reports a receipt chain that fails audit.
var ErrTampered = errors.New("ledger: receipt chain fails audit")

// Audit walks a node's receipts and checks sequence continuity, the
// prev-hash chain and every content hash. When trustedKey is non-empty
// every receipt must carry a valid signature by that key.
func (l *Ledger) Audit(ctx context.Context, node auria.NodeID, trustedKey string) error {
	rs, err := l.Receipts(ctx, node)
	if err != nil {
		return err
	}
	return AuditChain(rs, trustedKey)
}

// AuditChain checks receipts of one node, in order, starting at seq 1.
func AuditChain(rs []*Receipt, trustedKey string) error {
	var prev string
	for i, r := range rs {
		fail := func(msg string) error {
			return fmt.Errorf("%w: node %s seq %d: %s", ErrTampered, r.Node, r.Seq, msg)
		}
		if r.Seq != uint64(i+1) {
			return fail(fmt.Sprintf("expected seq %d", i+1))
		}
		if r.Prev != prev {
			return fail("previous hash does not match chain")
		}
		h, err := ContentHash(r)
		if err != nil {
			return fail(err.Error())
		}
		if h != r.Hash {
			return fail("content hash mismatch")
		}
		if trustedKey != "" {
			if r.Signer != trustedKey {
				return fail("not signed by trusted key")
			}
			if err := keys.Verify(r.Signer, r.HashAlg, []byte(r.Hash), r.Signature); err != nil {
				return fail(err.Error())
			}
		}
		prev = r.Hash
	}
	return nil
}

// Close closes the store.
func (l *Ledger) Close() error { return l.store.Close() }

// LastKey returns the highest idempotency key settled for node.
func (l *Ledger) LastKey(ctx context.Context, node auria.NodeID) (IdempotencyKey, bool, error) {
	h, err := l.store.Head(ctx, node)
	if err != nil {
		e := auria.StorageError("read chain head", err)
		e.Node = node
		return IdempotencyKey{}, false, e
	}
	if h.Seq == 0 {
		return IdempotencyKey{}, false, nil
	}
	return IdempotencyKey{Node: node, Seq: h.KeySeq}, true, nil
}
