package shard

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"auria.dev/core/auria"
	"auria.dev/core/cidutil"
	"auria.dev/core/storage"
)

// StoreFetcher loads shards from a blob store. It is the default fetch
// collaborator for the registry.
//
// A shard id is resolved to a CID through Index; ids missing from Index are
// parsed as CIDs themselves. Transport failures surface as NetworkError,
// corrupt or mismatched blobs as StorageError, and absent blobs as
// ShardNotFound.
type StoreFetcher struct {
	Store storage.Store
	Index map[auria.ShardID]cid.Cid

	// Limiter, if set, paces blob reads.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

func (f *StoreFetcher) resolve(id auria.ShardID) (c cid.Cid, indexed bool, err error) {
	if c, ok := f.Index[id]; ok {
		return c, true, nil
	}
	c, err = cidutil.Parse(string(id))
	if err != nil {
		return cid.Undef, false, fmt.Errorf("no blob indexed for shard %q", id)
	}
	return c, false, nil
}

// Fetch reads, verifies and decodes the shard blob for id.
func (f *StoreFetcher) Fetch(ctx context.Context, id auria.ShardID) (*Shard, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c, indexed, err := f.resolve(id)
	if err != nil {
		return nil, auria.ShardNotFound(id, err)
	}
	if f.Limiter != nil {
		if err := f.Limiter.Wait(ctx); err != nil {
			return nil, auria.NetworkError(fmt.Sprintf("fetch of shard %q not scheduled", id), err)
		}
	}

	b, err := f.Store.Get(ctx, c)
	switch {
	case err == nil:
	case storage.IsNotFound(err):
		return nil, auria.ShardNotFound(id, err)
	case storage.IsTransient(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Debug("shard fetch transport failure", zap.String("shard", string(id)), zap.Error(err))
		return nil, auria.NetworkError(fmt.Sprintf("fetch shard %q", id), err)
	default:
		return nil, auria.StorageError(fmt.Sprintf("read shard %q", id), err)
	}
	if err := cidutil.Verify(c, b); err != nil {
		return nil, auria.StorageError(fmt.Sprintf("shard %q blob integrity", id), err)
	}

	s, err := Decode(b)
	if err != nil {
		return nil, auria.StorageError(fmt.Sprintf("decode shard %q", id), err)
	}
	if indexed && s.ID() != id {
		return nil, auria.StorageError(fmt.Sprintf("blob for shard %q holds shard %q", id, s.ID()), ErrCorrupt)
	}
	logger.Debug("shard fetched",
		zap.String("shard", string(id)),
		zap.Stringer("cid", c),
		zap.Int("bytes", len(b)))
	return s, nil
}

// Publish encodes s and stores it, returning the blob CID.
func Publish(ctx context.Context, store storage.Store, s *Shard) (cid.Cid, error) {
	b, err := Encode(s)
	if err != nil {
		return cid.Undef, err
	}
	return store.Put(ctx, b)
}
