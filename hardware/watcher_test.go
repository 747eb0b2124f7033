package hardware

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"auria.dev/core/tensor"
)

const profileDoc = `profiles:
  - node: edge-01
    compute: 8
    memory_bytes: 17179869184
    dtypes: [fp16, int8, int4]
    cpu: {vendor: amd, cores: 16, threads: 32, features: [avx2]}
    gpu: {vendor: nvidia, vram_bytes: 12884901888, compute_capability: [8, 6]}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_ReloadBumpsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, profileDoc)

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	p, ok := w.Profile("edge-01")
	if !ok {
		t.Fatal("missing profile")
	}
	if p.Version != 1 || p.Compute != 8 || !p.Supports(tensor.FP16) {
		t.Fatalf("unexpected profile %+v", p)
	}
	if p.GPU == nil || p.GPU.ComputeCapability != [2]uint8{8, 6} {
		t.Fatalf("unexpected gpu %+v", p.GPU)
	}

	if err := w.Reload(); err != nil {
		t.Fatal(err)
	}
	p2, _ := w.Profile("edge-01")
	if p2.Version != 2 {
		t.Fatalf("expected version 2, got %d", p2.Version)
	}
	if p.Version != 1 {
		t.Fatalf("previous snapshot changed")
	}
}

func TestWatcher_MalformedKeepsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, profileDoc)
	w, err := NewWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "profiles: [ {node: x, dtypes: [fp64]} ]")
	if err := w.Reload(); err == nil {
		t.Fatalf("expected malformed reload to fail")
	}
	if w.Version() != 1 {
		t.Fatalf("version changed on failed reload")
	}
	if _, ok := w.Profile("edge-01"); !ok {
		t.Fatalf("previous snapshot lost")
	}
}

func TestWatcher_InitialLoadMustSucceed(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

func TestWatcher_RunPicksUpWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, profileDoc)
	w, err := NewWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	reloaded := make(chan uint64, 16)
	w.OnReload = func(v uint64) {
		select {
		case reloaded <- v:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher (which may still be registering) sees it.
		writeFile(t, path, profileDoc)
		select {
		case v := <-reloaded:
			if v < 2 {
				t.Fatalf("unexpected version %d", v)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("watcher did not reload within deadline")
		}
	}
}

func TestWatcher_StartCatchesUpOnEarlierWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, profileDoc)
	w, err := NewWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	// Unchanged contents do not produce a new snapshot.
	ctx, cancel := context.WithCancel(context.Background())
	done, err := w.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if w.Version() != 1 {
		t.Fatalf("expected version 1, got %d", w.Version())
	}
	cancel()
	<-done

	writeFile(t, path, profileDoc+"  - node: edge-02\n    compute: 2\n")
	ctx, cancel = context.WithCancel(context.Background())
	done, err = w.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		cancel()
		<-done
	}()
	if w.Version() != 2 {
		t.Fatalf("write before Start was not picked up, version %d", w.Version())
	}
	if _, ok := w.Profile("edge-02"); !ok {
		t.Fatal("missing profile written before Start")
	}
}

func TestWatcher_StartSeesSingleWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	writeFile(t, path, profileDoc)
	w, err := NewWatcher(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	reloaded := make(chan uint64, 16)
	w.OnReload = func(v uint64) {
		select {
		case reloaded <- v:
		default:
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done, err := w.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, path, profileDoc+"  - node: edge-02\n    compute: 2\n")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-reloaded:
			if _, ok := w.Profile("edge-02"); ok {
				return
			}
		case <-deadline:
			t.Fatal("watcher did not reload after a single write")
		}
	}
}

func TestParseFile_RejectsEmpty(t *testing.T) {
	if _, err := ParseFile([]byte("  \n")); err == nil {
		t.Fatalf("expected empty document to fail")
	}
}

func TestParseFile_RejectsDuplicates(t *testing.T) {
	doc := "profiles:\n  - node: a\n  - node: a\n"
	if _, err := ParseFile([]byte(doc)); err == nil {
		t.Fatalf("expected duplicate node to fail")
	}
}
