package registry

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"auria.dev/core/auria"
	"auria.dev/core/keys"
	"auria.dev/core/license"
	"auria.dev/core/shard"
	"auria.dev/core/tensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testShard(t *testing.T, id auria.ShardID) *shard.Shard {
	t.Helper()
	w, err := tensor.Zeros([]int{2}, tensor.FP16)
	if err != nil {
		t.Fatal(err)
	}
	s, err := shard.New(id, nil, auria.Nano, map[string]*tensor.Tensor{"w": w}, shard.Meta{})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// gatedFetcher blocks every fetch until release is closed.
type gatedFetcher struct {
	t       *testing.T
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func newGated(t *testing.T) *gatedFetcher {
	return &gatedFetcher{t: t, release: make(chan struct{})}
}

func (g *gatedFetcher) Fetch(ctx context.Context, id auria.ShardID) (*shard.Shard, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return testShard(g.t, id), nil
}

func newRegistry(t *testing.T, f Fetcher, opts Options) *Registry {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	r := New(f, opts)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPutThenAwait(t *testing.T) {
	r := newRegistry(t, nil, Options{})
	r.Put(testShard(t, "S1"))
	if st := r.Lookup("S1"); st != Present {
		t.Fatalf("state: got %s want Present", st)
	}
	s, err := r.Await(context.Background(), "S1")
	if err != nil || s.ID() != "S1" {
		t.Fatalf("Await: %v", err)
	}
}

func TestAwaitWithoutFetcher(t *testing.T) {
	r := newRegistry(t, nil, Options{})
	_, err := r.Await(context.Background(), "S1")
	if !auria.IsKind(err, auria.KindShardNotFound) || !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("expected ShardNotFound(no fetcher), got %v", err)
	}
	if st := r.Lookup("S1"); st != Absent {
		t.Fatalf("state: got %s want Absent", st)
	}
}

func TestLookupStartsSingleFetch(t *testing.T) {
	f := newGated(t)
	r := newRegistry(t, f, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st := r.Lookup("S1"); st != Fetching {
				t.Errorf("state: got %s want Fetching", st)
			}
		}()
	}
	wg.Wait()
	close(f.release)

	if _, err := r.Await(context.Background(), "S1"); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("fetch calls: got %d want 1", n)
	}
	if st := r.Lookup("S1"); st != Present {
		t.Fatalf("state: got %s want Present", st)
	}
}

func TestFetchFailureFailsWaitersAndAllowsRefetch(t *testing.T) {
	boom := errors.New("upstream 503")
	f := newGated(t)
	f.err = boom
	r := newRegistry(t, f, Options{})

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := r.Await(context.Background(), "S1")
			errs <- err
		}()
	}
	for f.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(f.release)
	for i := 0; i < 3; i++ {
		err := <-errs
		if !auria.IsKind(err, auria.KindShardNotFound) || !errors.Is(err, boom) {
			t.Fatalf("waiter %d: expected ShardNotFound wrapping fetch error, got %v", i, err)
		}
	}
	if !errors.Is(r.LastError("S1"), boom) {
		t.Fatalf("LastError: %v", r.LastError("S1"))
	}

	f.err = nil
	if st := r.Lookup("S1"); st != Fetching {
		t.Fatalf("second lookup should start a new fetch, state %s", st)
	}
	if _, err := r.Await(context.Background(), "S1"); err != nil {
		t.Fatalf("Await after refetch: %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("fetch calls: got %d want 2", n)
	}
}

func TestFetchFailureKeepsTransportKinds(t *testing.T) {
	refused := errors.New("connection refused")
	cases := []struct {
		name string
		err  error
		kind auria.Kind
	}{
		{"network", auria.NetworkError("dial blobd", refused), auria.KindNetwork},
		{"storage", auria.StorageError("read blob", refused), auria.KindStorage},
		{"absent", auria.ShardNotFound("S1", refused), auria.KindShardNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRegistry(t, FetcherFunc(func(ctx context.Context, id auria.ShardID) (*shard.Shard, error) {
				return nil, tc.err
			}), Options{})
			_, err := r.Await(context.Background(), "S1")
			e, ok := auria.As(err)
			if !ok || e.Kind != tc.kind || e.Shard != "S1" || !errors.Is(err, refused) {
				t.Fatalf("got %v", err)
			}
			if e.Retryable() != (tc.kind != auria.KindShardNotFound) {
				t.Fatalf("Retryable=%v for %v", e.Retryable(), err)
			}
		})
	}
}

func TestAwaitDeadlineCancelsOnlyThatWaiter(t *testing.T) {
	f := newGated(t)
	r := newRegistry(t, f, Options{})

	patient := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := r.Await(ctx, "S1")
		patient <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Await(ctx, "S1")
	if !auria.IsKind(err, auria.KindShardNotFound) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ShardNotFound(deadline), got %v", err)
	}
	if st := r.Lookup("S1"); st != Fetching {
		t.Fatalf("fetch should still be in flight, state %s", st)
	}

	close(f.release)
	if err := <-patient; err != nil {
		t.Fatalf("patient waiter: %v", err)
	}
}

func TestAwaitDefaultTimeout(t *testing.T) {
	f := newGated(t)
	r := newRegistry(t, f, Options{AwaitTimeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := r.Await(context.Background(), "S1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline from default await timeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("default await timeout not applied")
	}
	close(f.release)
}

func TestFetchTimeout(t *testing.T) {
	f := newGated(t)
	r := newRegistry(t, f, Options{FetchTimeout: 20 * time.Millisecond})
	_, err := r.Await(context.Background(), "S1")
	if !auria.IsKind(err, auria.KindShardNotFound) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected fetch timeout, got %v", err)
	}
}

func TestCloseCancelsInFlightFetch(t *testing.T) {
	f := newGated(t)
	r := New(f, Options{})
	r.Lookup("S1")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(r.LastError("S1"), context.Canceled) {
		t.Fatalf("expected canceled fetch, got %v", r.LastError("S1"))
	}
	if st := r.Lookup("S1"); st != Absent {
		t.Fatalf("closed registry must not start fetches, state %s", st)
	}
	_, err := r.Await(context.Background(), "S1")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestPutDuringFetchWins(t *testing.T) {
	f := newGated(t)
	r := newRegistry(t, f, Options{})
	r.Lookup("S1")
	provisioned := testShard(t, "S1")
	r.Put(provisioned)
	close(f.release)
	s, err := r.Await(context.Background(), "S1")
	if err != nil || s != provisioned {
		t.Fatalf("expected provisioned shard, got %v %v", s, err)
	}
}

func signedLicense(t *testing.T, signer keys.Signer, id auria.LicenseID, sh auria.ShardID) *license.License {
	t.Helper()
	l := &license.License{
		ID:        id,
		Shard:     sh,
		Scope:     license.Scope{Nodes: []auria.NodeID{"n1"}},
		NotBefore: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := license.Sign(l, signer); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestBindLicense(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	signer, _ := keys.NewEd25519Signer(seed)
	v, err := license.NewVerifier(signer.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	r := newRegistry(t, nil, Options{Verifier: v})

	l1 := signedLicense(t, signer, "L1", "S1")
	l2 := signedLicense(t, signer, "L2", "S1")
	for _, l := range []*license.License{l1, l2} {
		if err := r.BindLicense(l); err != nil {
			t.Fatalf("BindLicense(%s): %v", l.ID, err)
		}
	}

	bad := signedLicense(t, signer, "L3", "S1")
	bad.Quota = 99
	err = r.BindLicense(bad)
	if e, ok := auria.As(err); !ok || e.Kind != auria.KindLicenseInvalid || e.Reason != license.ReasonBadSignature {
		t.Fatalf("expected bad-signature, got %v", err)
	}

	got := r.Licenses("S1")
	if len(got) != 2 || got[0].ID != "L1" || got[1].ID != "L2" {
		t.Fatalf("unexpected bind order %v", got)
	}
	got[0].Quota = 1000
	if r.Licenses("S1")[0].Quota != 0 {
		t.Fatalf("Licenses returned internal state")
	}

	renewed := signedLicense(t, signer, "L1", "S1")
	renewed.NotAfter = renewed.NotAfter.AddDate(1, 0, 0)
	if err := license.Sign(renewed, signer); err != nil {
		t.Fatal(err)
	}
	if err := r.BindLicense(renewed); err != nil {
		t.Fatal(err)
	}
	got = r.Licenses("S1")
	if len(got) != 2 || got[0].ID != "L1" || !got[0].NotAfter.Equal(renewed.NotAfter) {
		t.Fatalf("rebinding should replace in place: %v", got)
	}
}

func TestBindLicenseWithoutVerifierChecksStructure(t *testing.T) {
	r := newRegistry(t, nil, Options{})
	err := r.BindLicense(&license.License{ID: "L1", Shard: "S1"})
	if !auria.IsKind(err, auria.KindLicenseInvalid) {
		t.Fatalf("expected LicenseInvalid, got %v", err)
	}
}
