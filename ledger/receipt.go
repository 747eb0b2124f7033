package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"auria.dev/core/auria"
	"auria.dev/core/cidutil"
)

// IdempotencyKey identifies one execution attempt: the requesting node and
// its local, monotonic sequence number.
type IdempotencyKey struct {
	Node auria.NodeID `json:"node"`
	Seq  uint64       `json:"seq"`
}

func (k IdempotencyKey) String() string {
	return string(k.Node) + "/" + strconv.FormatUint(k.Seq, 10)
}

// ParseIdempotencyKey parses the form produced by String.
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 {
		return IdempotencyKey{}, fmt.Errorf("ledger: malformed idempotency key %q", s)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return IdempotencyKey{}, fmt.Errorf("ledger: malformed idempotency key %q: %w", s, err)
	}
	k := IdempotencyKey{Node: auria.NodeID(s[:i]), Seq: seq}
	return k, k.check()
}

func (k IdempotencyKey) check() error {
	if err := auria.CheckID("node", string(k.Node)); err != nil {
		return err
	}
	if k.Seq == 0 {
		return fmt.Errorf("ledger: idempotency key %s: sequence starts at 1", k)
	}
	return nil
}

// SettledLicense is one license charged by a receipt.
type SettledLicense struct {
	License auria.LicenseID `json:"license"`
	Shard   auria.ShardID   `json:"shard"`
	Bundle  auria.BundleID  `json:"bundle,omitempty"`
	Units   uint64          `json:"units"`
}

// Receipt is the immutable settlement record of one execution. Seq numbers
// a node's receipts 1, 2, ...; Prev is the Hash of the node's previous
// receipt, so each node's receipts form a hash chain.
type Receipt struct {
	Request  uuid.UUID        `json:"request"`
	Node     auria.NodeID     `json:"node"`
	Seq      uint64           `json:"seq"`
	Key      IdempotencyKey   `json:"key"`
	Expert   auria.ExpertID   `json:"expert"`
	Tier     auria.Tier       `json:"tier"`
	Shards   []auria.ShardID  `json:"shards"`
	Licenses []SettledLicense `json:"licenses"`

	InputsDigest  string    `json:"inputs_digest,omitempty"`
	OutputsDigest string    `json:"outputs_digest,omitempty"`
	Tokens        uint64    `json:"tokens,omitempty"`
	CommittedAt   time.Time `json:"committed_at"`
	Prev          string    `json:"prev,omitempty"`

	// Hash is the CID of the canonical receipt body (every field above).
	Hash string `json:"hash"`

	Signer    string `json:"signer,omitempty"`
	HashAlg   string `json:"hash_alg,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// body is the hashed subset of a Receipt, in fixed field order.
type body struct {
	Request       uuid.UUID        `json:"request"`
	Node          auria.NodeID     `json:"node"`
	Seq           uint64           `json:"seq"`
	Key           IdempotencyKey   `json:"key"`
	Expert        auria.ExpertID   `json:"expert"`
	Tier          auria.Tier       `json:"tier"`
	Shards        []auria.ShardID  `json:"shards"`
	Licenses      []SettledLicense `json:"licenses"`
	InputsDigest  string           `json:"inputs_digest,omitempty"`
	OutputsDigest string           `json:"outputs_digest,omitempty"`
	Tokens        uint64           `json:"tokens,omitempty"`
	CommittedAt   time.Time        `json:"committed_at"`
	Prev          string           `json:"prev,omitempty"`
}

// ContentHash returns the CID string of r's canonical body.
func ContentHash(r *Receipt) (string, error) {
	b, err := json.Marshal(body{
		Request:       r.Request,
		Node:          r.Node,
		Seq:           r.Seq,
		Key:           r.Key,
		Expert:        r.Expert,
		Tier:          r.Tier,
		Shards:        r.Shards,
		Licenses:      r.Licenses,
		InputsDigest:  r.InputsDigest,
		OutputsDigest: r.OutputsDigest,
		Tokens:        r.Tokens,
		CommittedAt:   r.CommittedAt.UTC(),
		Prev:          r.Prev,
	})
	if err != nil {
		return "", err
	}
	return cidutil.String(b), nil
}

// Units returns the units r charges to license id.
func (r *Receipt) Units(id auria.LicenseID) uint64 {
	var n uint64
	for _, l := range r.Licenses {
		if l.License == id {
			n += l.Units
		}
	}
	return n
}
