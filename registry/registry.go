// Package registry tracks known shards, their availability and the licenses
// bound to them.
//
// Each shard moves through an explicit state machine:
//
//	Absent --lookup miss--> Fetching --success--> Present
//	                           \--failure--> Absent
//
// The registry starts at most one fetch per shard at a time and never
// retries on its own; a later lookup of an Absent shard starts a new fetch.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"auria.dev/core/auria"
	"auria.dev/core/license"
	"auria.dev/core/shard"
)

// State is a shard's availability.
type State uint8

const (
	Absent State = iota
	Fetching
	Present
)

func (s State) String() string {
	switch s {
	case Absent:
		return "Absent"
	case Fetching:
		return "Fetching"
	case Present:
		return "Present"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Fetcher retrieves a shard that is not yet present. Implementations own
// their retry policy; the registry only observes the terminal result.
type Fetcher interface {
	Fetch(ctx context.Context, id auria.ShardID) (*shard.Shard, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id auria.ShardID) (*shard.Shard, error)

func (f FetcherFunc) Fetch(ctx context.Context, id auria.ShardID) (*shard.Shard, error) {
	return f(ctx, id)
}

var (
	// ErrClosed is the cause reported once the registry has been closed.
	ErrClosed = errors.New("registry: closed")
	// ErrNoFetcher is the cause reported for absent shards when no fetcher
	// is configured.
	ErrNoFetcher = errors.New("registry: shard absent and no fetcher configured")
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultAwaitTimeout = 10 * time.Second
)

type Options struct {
	// FetchTimeout bounds each fetch started by the registry.
	FetchTimeout time.Duration
	// AwaitTimeout applies to Await calls whose context has no deadline.
	AwaitTimeout time.Duration
	// Verifier, if set, checks license signatures in BindLicense.
	Verifier *license.Verifier
	Logger   *zap.Logger
}

type entry struct {
	mu       sync.Mutex
	state    State
	shard    *shard.Shard
	licenses []*license.License
	lastErr  error
	// changed is closed on every state transition and then replaced.
	changed chan struct{}
}

func (e *entry) transition(s State) {
	e.state = s
	close(e.changed)
	e.changed = make(chan struct{})
}

// Registry is safe for concurrent use. Each shard has its own lock; the
// registry-wide lock only guards the entry map.
type Registry struct {
	fetcher Fetcher
	opts    Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	entries map[auria.ShardID]*entry
}

// New creates a registry. fetcher may be nil, in which case only shards
// provisioned with Put are ever available.
func New(fetcher Fetcher, opts Options) *Registry {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.AwaitTimeout <= 0 {
		opts.AwaitTimeout = DefaultAwaitTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.Named("registry"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[auria.ShardID]*entry),
	}
}

func (r *Registry) entry(id auria.ShardID) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		e = &entry{changed: make(chan struct{})}
		r.entries[id] = e
	}
	return e
}

// Put provisions s as Present, replacing any previous value.
func (r *Registry) Put(s *shard.Shard) {
	e := r.entry(s.ID())
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shard = s
	e.lastErr = nil
	e.transition(Present)
}

// BindLicense attaches lic to its shard. Licenses are kept in bind order; a
// license rebound under the same ID replaces the earlier one in place. When
// a Verifier is configured the signature must verify.
func (r *Registry) BindLicense(lic *license.License) error {
	if r.opts.Verifier != nil {
		if err := r.opts.Verifier.Verify(lic); err != nil {
			return err
		}
	} else if err := lic.Check(); err != nil {
		e := auria.LicenseInvalid(lic.Shard, license.ReasonMalformed, err.Error())
		e.License = lic.ID
		e.Cause = err
		return e
	}

	c := lic.Clone()
	e := r.entry(c.Shard)
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.licenses {
		if l.ID == c.ID {
			e.licenses[i] = c
			return nil
		}
	}
	e.licenses = append(e.licenses, c)
	return nil
}

// Licenses returns copies of the licenses bound to id, in bind order.
func (r *Registry) Licenses(id auria.ShardID) []*license.License {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*license.License, len(e.licenses))
	for i, l := range e.licenses {
		out[i] = l.Clone()
	}
	return out
}

// Lookup returns the shard's state, starting a fetch if it is Absent.
func (r *Registry) Lookup(id auria.ShardID) State {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Absent {
		r.startFetchLocked(id, e)
	}
	return e.state
}

// Shard returns the shard if it is Present, without starting a fetch.
func (r *Registry) Shard(id auria.ShardID) (*shard.Shard, bool) {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Present {
		return nil, false
	}
	return e.shard, true
}

// LastError returns the error of the most recent failed fetch of id.
func (r *Registry) LastError(id auria.ShardID) error {
	e := r.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// startFetchLocked moves e to Fetching and starts the fetcher. e.mu must be
// held. It is a no-op without a fetcher or after Close.
func (r *Registry) startFetchLocked(id auria.ShardID, e *entry) {
	if r.fetcher == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	e.transition(Fetching)
	r.logger.Debug("shard fetch started", zap.String("shard", string(id)))

	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.opts.FetchTimeout)
		defer cancel()

		s, err := r.fetcher.Fetch(ctx, id)
		if err == nil && s == nil {
			err = errors.New("fetcher returned no shard")
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.state != Fetching {
			// Provisioned with Put while the fetch was in flight.
			return
		}
		if err != nil {
			e.lastErr = err
			e.transition(Absent)
			r.logger.Warn("shard fetch failed", zap.String("shard", string(id)), zap.Error(err))
			return
		}
		e.shard = s
		e.lastErr = nil
		e.transition(Present)
		r.logger.Debug("shard present", zap.String("shard", string(id)))
	}()
}

// Await blocks until id is Present, its fetch fails, or ctx is done. A ctx
// without a deadline gets the registry's AwaitTimeout. A fetch that failed
// with a NetworkError or StorageError returns that error with Shard set so
// callers can retry; every other failure is a ShardNotFound error whose
// cause is the fetch error or the context error. Cancelling one waiter
// affects no other waiter and no fetch.
func (r *Registry) Await(ctx context.Context, id auria.ShardID) (*shard.Shard, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.AwaitTimeout)
		defer cancel()
	}

	e := r.entry(id)
	e.mu.Lock()
	if e.state == Absent {
		r.startFetchLocked(id, e)
		if e.state == Absent {
			e.mu.Unlock()
			return nil, auria.ShardNotFound(id, r.absentCause())
		}
	}
	for {
		switch e.state {
		case Present:
			s := e.shard
			e.mu.Unlock()
			return s, nil
		case Absent:
			// Woken by a failed fetch.
			cause := e.lastErr
			e.mu.Unlock()
			if cause == nil {
				cause = ErrNoFetcher
			}
			return nil, fetchFailure(id, cause)
		}

		ch := e.changed
		e.mu.Unlock()
		select {
		case <-ch:
			e.mu.Lock()
		case <-ctx.Done():
			return nil, auria.ShardNotFound(id, ctx.Err())
		}
	}
}

// fetchFailure keeps transport and storage failures visible to the caller.
func fetchFailure(id auria.ShardID, cause error) error {
	if e, ok := auria.As(cause); ok && (e.Kind == auria.KindNetwork || e.Kind == auria.KindStorage) {
		cp := *e
		if cp.Shard == "" {
			cp.Shard = id
		}
		return &cp
	}
	return auria.ShardNotFound(id, cause)
}

func (r *Registry) absentCause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return ErrNoFetcher
}

// Close cancels in-flight fetches and waits for them to finish. Shards
// already Present stay readable.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	return nil
}
