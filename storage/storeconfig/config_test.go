package storeconfig_test

import (
	"context"
	"testing"

	"auria.dev/core/storage"
	_ "auria.dev/core/storage/localfs"
	_ "auria.dev/core/storage/memstore"
	"auria.dev/core/storage/storeconfig"
)

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  storeconfig.Config
		ok   bool
	}{
		{"empty", storeconfig.Config{}, false},
		{"single", storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "memory"}}}, true},
		{"duplicate", storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "memory"}, {Name: "memory"}}}, false},
		{"duplicate with ids", storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "memory", ID: "a"}, {Name: "memory", ID: "b"}}}, true},
		{"bad policy", storeconfig.Config{WritePolicy: "some", Backends: []storeconfig.BackendConfig{{Name: "memory"}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestConfig_OpenWritePolicies(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first := storeconfig.Config{Backends: []storeconfig.BackendConfig{
		{Name: "memory"},
		{Name: "localfs", Options: map[string]string{"dir": dir}},
	}}
	s, closeFn, err := first.Open(storeconfig.UsageDaemon, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeFn()
	if _, ok := s.(storage.Fallback); !ok {
		t.Fatalf("expected Fallback, got %T", s)
	}

	all := first
	all.WritePolicy = "all"
	r, closeAll, err := all.Open(storeconfig.UsageDaemon, "localfs")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer closeAll()
	rep, ok := r.(storage.Replicating)
	if !ok {
		t.Fatalf("expected Replicating, got %T", r)
	}
	if rep.Backends[0].Name != "localfs" {
		t.Fatalf("preferred backend not first: %q", rep.Backends[0].Name)
	}
	id, err := rep.Put(ctx, []byte("blob"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	for _, b := range rep.Backends {
		if ok, _ := b.Store.Has(ctx, id); !ok {
			t.Fatalf("backend %q missing replicated blob", b.Name)
		}
	}
}

func TestOpenWithConfig_Errors(t *testing.T) {
	if _, _, err := storeconfig.OpenWithConfig("nope", storeconfig.UsageCLI, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	if _, _, err := storeconfig.OpenWithConfig("localfs", storeconfig.UsageCLI, nil); err == nil {
		t.Fatalf("expected missing dir error")
	}
	cfg := storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "memory"}}}
	if _, _, err := cfg.Open(storeconfig.UsageCLI, "missing"); err == nil {
		t.Fatalf("expected preferred-not-found error")
	}
}

func TestNames(t *testing.T) {
	names := storeconfig.Names(storeconfig.UsageCLI)
	want := map[string]bool{"localfs": false, "memory": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Fatalf("backend %q not registered; got %v", n, names)
		}
	}
}
