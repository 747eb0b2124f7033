package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"auria.dev/core/auria"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("ledger: store closed")

// Store persists receipts and per-license usage.
//
// The Ledger serializes writers per node and per license; a Store only has
// to make Append atomic: the receipt, its key and assembly indexes, the
// node head and every charged license's usage change together or not at
// all.
type Store interface {
	// ByKey returns the receipt recorded under key, or nil.
	ByKey(ctx context.Context, key IdempotencyKey) (*Receipt, error)
	// SettledBy returns the key an assembly was settled under.
	SettledBy(ctx context.Context, assembly uuid.UUID) (IdempotencyKey, bool, error)
	Consumed(ctx context.Context, id auria.LicenseID) (uint64, error)
	// Usage returns a license's settled usage, zero when never charged.
	Usage(ctx context.Context, id auria.LicenseID) (Usage, error)
	// Head returns the node's chain head, zero when the node has none.
	Head(ctx context.Context, node auria.NodeID) (Head, error)
	Append(ctx context.Context, r *Receipt) error
	// Receipts returns the node's receipts in sequence order.
	Receipts(ctx context.Context, node auria.NodeID) ([]*Receipt, error)
	// Nodes lists nodes with at least one receipt.
	Nodes(ctx context.Context) ([]auria.NodeID, error)
	Close() error
}

// Head is a node's chain position. KeySeq is the highest idempotency key
// sequence settled for the node, which retried settlements can leave
// above the key of the last receipt.
type Head struct {
	Seq    uint64 `json:"seq"`
	Hash   string `json:"hash"`
	KeySeq uint64 `json:"keySeq"`
}

// advance returns the head after appending r.
func (h Head) advance(r *Receipt) Head {
	next := Head{Seq: r.Seq, Hash: r.Hash, KeySeq: h.KeySeq}
	if r.Key.Seq > next.KeySeq {
		next.KeySeq = r.Key.Seq
	}
	return next
}

// Usage aggregates the receipts that charged one license. Units is what
// counts against the quota; Requests counts receipts and Tokens sums their
// token counts.
type Usage struct {
	License     auria.LicenseID `json:"license"`
	Units       uint64          `json:"units"`
	Requests    uint64          `json:"requests"`
	Tokens      uint64          `json:"tokens"`
	LastSettled time.Time       `json:"last_settled"`
}

// charges sums the units r charges to each license.
func charges(r *Receipt) map[auria.LicenseID]uint64 {
	out := make(map[auria.LicenseID]uint64, len(r.Licenses))
	for _, l := range r.Licenses {
		out[l.License] += l.Units
	}
	return out
}

// charge returns u after r charged units to it.
func (u Usage) charge(id auria.LicenseID, units uint64, r *Receipt) Usage {
	u.License = id
	u.Units += units
	u.Requests++
	u.Tokens += r.Tokens
	u.LastSettled = r.CommittedAt
	return u
}

func cloneReceipt(r *Receipt) *Receipt {
	c := *r
	c.Shards = slices.Clone(r.Shards)
	c.Licenses = slices.Clone(r.Licenses)
	return &c
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	receipts map[auria.NodeID][]*Receipt
	heads    map[auria.NodeID]Head
	byKey    map[IdempotencyKey]*Receipt
	settled  map[uuid.UUID]IdempotencyKey
	usage    map[auria.LicenseID]Usage
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		receipts: make(map[auria.NodeID][]*Receipt),
		heads:    make(map[auria.NodeID]Head),
		byKey:    make(map[IdempotencyKey]*Receipt),
		settled:  make(map[uuid.UUID]IdempotencyKey),
		usage:    make(map[auria.LicenseID]Usage),
	}
}

func (m *MemoryStore) ByKey(ctx context.Context, key IdempotencyKey) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	r, ok := m.byKey[key]
	if !ok {
		return nil, nil
	}
	return cloneReceipt(r), nil
}

func (m *MemoryStore) SettledBy(ctx context.Context, assembly uuid.UUID) (IdempotencyKey, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return IdempotencyKey{}, false, ErrClosed
	}
	k, ok := m.settled[assembly]
	return k, ok, nil
}

func (m *MemoryStore) Consumed(ctx context.Context, id auria.LicenseID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.usage[id].Units, nil
}

func (m *MemoryStore) Usage(ctx context.Context, id auria.LicenseID) (Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Usage{}, ErrClosed
	}
	u, ok := m.usage[id]
	if !ok {
		return Usage{License: id}, nil
	}
	return u, nil
}

func (m *MemoryStore) Head(ctx context.Context, node auria.NodeID) (Head, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Head{}, ErrClosed
	}
	return m.heads[node], nil
}

func (m *MemoryStore) Append(ctx context.Context, r *Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	own := cloneReceipt(r)
	m.receipts[r.Node] = append(m.receipts[r.Node], own)
	m.heads[r.Node] = m.heads[r.Node].advance(r)
	m.byKey[r.Key] = own
	m.settled[r.Request] = r.Key
	for id, units := range charges(r) {
		m.usage[id] = m.usage[id].charge(id, units, r)
	}
	return nil
}

func (m *MemoryStore) Receipts(ctx context.Context, node auria.NodeID) ([]*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	rs := m.receipts[node]
	out := make([]*Receipt, len(rs))
	for i, r := range rs {
		out[i] = cloneReceipt(r)
	}
	return out, nil
}

func (m *MemoryStore) Nodes(ctx context.Context) ([]auria.NodeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]auria.NodeID, 0, len(m.receipts))
	for n := range m.receipts {
		out = append(out, n)
	}
	slices.Sort(out)
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
