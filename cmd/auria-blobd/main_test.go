package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_ListBackends(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"--list-backends"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	for _, want := range []string{"localfs", "memory"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("missing backend %q in:\n%s", want, out.String())
		}
	}
}

func TestRun_RejectsBadSetup(t *testing.T) {
	badConfig := filepath.Join(t.TempDir(), "blobs.yaml")
	if err := os.WriteFile(badConfig, []byte("write_policy: sometimes\nbackends: [{name: memory}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cases := map[string][]string{
		"unknown backend":   {"--backend", "nope"},
		"localfs needs dir": {"--backend", "localfs"},
		"bad option":        {"--opt", "novalue"},
		"bad log level":     {"--log-level", "loud"},
		"bad config":        {"--config", badConfig},
		"missing config":    {"--config", filepath.Join(t.TempDir(), "none.yaml")},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			if code := run(context.Background(), args, &out, &errOut); code != 2 {
				t.Fatalf("exit %d, want 2 (stderr: %s)", code, errOut.String())
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out, errOut bytes.Buffer
	args := []string{"--listen", "127.0.0.1:0", "--backend", "memory", "--log-level", "error"}
	if code := run(ctx, args, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
}
