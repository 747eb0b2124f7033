package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"auria.dev/core/cidutil"
)

// Fallback reads from several stores in a fixed order and writes only to
// the first. The order of Stores is the hydration order; callers must supply
// a stable order.
type Fallback struct {
	Stores []Store
}

var _ Store = Fallback{}

func (f Fallback) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if len(f.Stores) == 0 {
		return cid.Undef, errors.New("storage: Fallback has no stores")
	}
	return f.Stores[0].Put(ctx, data)
}

// Get returns the first successful read. A NotFound from one store moves on
// to the next; any other error stops the walk.
func (f Fallback) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	for _, s := range f.Stores {
		b, err := s.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (f Fallback) Has(ctx context.Context, id cid.Cid) (bool, error) {
	var firstErr error
	for _, s := range f.Stores {
		ok, err := s.Has(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, firstErr
}

// Named associates a store with a stable backend name.
type Named struct {
	Name  string
	Store Store
}

// Replicating writes to every backend and requires all of them to return the
// same CID. Reads fall back in order.
type Replicating struct {
	Backends []Named
}

var _ Store = Replicating{}

// PutAll writes data to all backends and returns the canonical CID plus the
// CID each backend reported.
func (r Replicating) PutAll(ctx context.Context, data []byte) (cid.Cid, map[string]cid.Cid, error) {
	want, err := cidutil.Sum(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(r.Backends) == 0 {
		return cid.Undef, nil, errors.New("storage: Replicating has no backends")
	}
	out := make(map[string]cid.Cid, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store == nil {
			return cid.Undef, nil, fmt.Errorf("storage: nil store for backend %q", b.Name)
		}
		got, err := b.Store.Put(ctx, data)
		if err != nil {
			return cid.Undef, out, fmt.Errorf("storage: backend %q: %w", b.Name, err)
		}
		out[b.Name] = got
		if got != want {
			return cid.Undef, out, ErrCIDMismatch
		}
	}
	return want, out, nil
}

func (r Replicating) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, _, err := r.PutAll(ctx, data)
	return id, err
}

func (r Replicating) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	stores := make([]Store, 0, len(r.Backends))
	for _, b := range r.Backends {
		if b.Store != nil {
			stores = append(stores, b.Store)
		}
	}
	return Fallback{Stores: stores}.Get(ctx, id)
}

func (r Replicating) Has(ctx context.Context, id cid.Cid) (bool, error) {
	for _, b := range r.Backends {
		if b.Store == nil {
			continue
		}
		if ok, err := b.Store.Has(ctx, id); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}
