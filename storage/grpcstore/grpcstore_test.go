package grpcstore

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"auria.dev/core/cidutil"
	"auria.dev/core/storage"
	"auria.dev/core/storage/localfs"
	"auria.dev/core/storage/memstore"
	"auria.dev/core/storage/testkit"
)

func startServer(t *testing.T, backend storage.Store) (*Client, func()) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterBlobStoreServer(srv, &Server{Store: backend})
	go func() {
		_ = srv.Serve(lis)
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }
	client, err := Dial("passthrough:///bufnet", DialOptions{
		Timeout: 2 * time.Second,
		Extra:   []grpc.DialOption{grpc.WithContextDialer(dialer)},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
	})
	return client, srv.Stop
}

func TestGRPCStore_LocalFS_RoundTrip(t *testing.T) {
	backend, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	client, _ := startServer(t, backend)
	ctx := context.Background()

	payload := []byte("hello blobstore")
	id, err := client.Put(ctx, payload)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id != cidutil.MustSum(payload) {
		t.Fatalf("unexpected CID %s", id)
	}
	ok, err := client.Has(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Has: got (%v, %v) want (true, nil)", ok, err)
	}
	got, err := client.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestGRPCStore_Conformance(t *testing.T) {
	testkit.RunStoreConformance(t, func(t *testing.T) storage.Store {
		client, _ := startServer(t, memstore.New())
		return client
	})
}

func TestGRPCStore_NotFoundMapsToSentinel(t *testing.T) {
	client, _ := startServer(t, memstore.New())
	_, err := client.Get(context.Background(), cidutil.MustSum([]byte("absent")))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get absent: got %v want %v", err, storage.ErrNotFound)
	}
}

func TestGRPCStore_StoppedServerIsUnavailable(t *testing.T) {
	client, stop := startServer(t, memstore.New())
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, cidutil.MustSum([]byte("x")))
	if !storage.IsTransient(err) {
		t.Fatalf("Get after stop: got %v, want transient error", err)
	}
}
