package ledger

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"auria.dev/core/auria"
)

func TestBadgerReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultBadgerConfig(dir)
	cfg.SyncWrites = false
	cfg.GCInterval = 0
	cfg.Logger = zaptest.NewLogger(t)

	s, err := OpenBadger(cfg)
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	l := New(s, Options{})
	a := assembled(t, 3, 0)
	r1, err := l.Commit(ctx, a, Outcome{}, key(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenBadger(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l = New(s, Options{})
	defer l.Close()

	if got := consumed(t, l, "L1"); got != 1 {
		t.Fatalf("L1 consumed after reopen: %d", got)
	}
	if u, err := l.Usage(ctx, "L1"); err != nil || u.Requests != 1 || u.Units != 1 {
		t.Fatalf("L1 usage after reopen: %+v err=%v", u, err)
	}
	if last, found, err := l.LastKey(ctx, "node-a"); err != nil || !found || last != key(1) {
		t.Fatalf("LastKey after reopen: %v %v %v", last, found, err)
	}
	again, err := l.Commit(ctx, a, Outcome{}, key(1))
	if err != nil || again.Hash != r1.Hash {
		t.Fatalf("idempotent commit after reopen: %v %+v", err, again)
	}
	r2, err := l.Commit(ctx, assembled(t, 3, 0), Outcome{}, key(2))
	if err != nil {
		t.Fatal(err)
	}
	if r2.Seq != 2 || r2.Prev != r1.Hash {
		t.Fatalf("chain did not continue: %+v", r2)
	}
	if err := l.Audit(ctx, "node-a", ""); err != nil {
		t.Fatalf("Audit: %v", err)
	}
}

func TestBadgerKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	for _, node := range []auria.NodeID{"a", "ab"} {
		r := &Receipt{Node: node, Seq: 1, Key: IdempotencyKey{Node: node, Seq: 1}, Hash: "h-" + string(node)}
		if err := s.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	rs, err := s.Receipts(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0].Node != "a" {
		t.Fatalf("prefix scan leaked another node: %+v", rs)
	}
	nodes, err := s.Nodes(ctx)
	if err != nil || len(nodes) != 2 {
		t.Fatalf("Nodes: %v %v", nodes, err)
	}
}

func TestBadgerRequiresPath(t *testing.T) {
	if _, err := OpenBadger(BadgerConfig{}); err == nil {
		t.Fatalf("expected error without path")
	}
}
