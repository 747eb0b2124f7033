// Package storage defines the content-addressed blob store that holds
// encoded shards, plus composition helpers over several backends.
package storage

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Store is a minimal content-addressable blob store.
//
// Contract:
//   - Put MUST be idempotent.
//   - Stored objects MUST be immutable.
//   - CIDs MUST be derived from the bytes written (cidutil.Sum).
//   - Get MUST return ErrNotFound when the CID is absent and MUST verify the
//     returned bytes against the requested CID.
type Store interface {
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
}
