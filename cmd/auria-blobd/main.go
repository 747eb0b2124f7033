// Command auria-blobd serves a blob store over gRPC so that nodes can fetch
// shard blobs with the "grpc" backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gopkg.in/yaml.v3"

	"auria.dev/core/logging"
	"auria.dev/core/storage/grpcstore"
	"auria.dev/core/storage/storeconfig"

	_ "auria.dev/core/storage/localfs"
	_ "auria.dev/core/storage/memstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// options collects repeated --opt key=value flags.
type options map[string]string

func (o options) String() string { return fmt.Sprint(map[string]string(o)) }

func (o options) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	o[k] = val
	return nil
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("auria-blobd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "localfs", "blob store backend name")
	configPath := fs.String("config", "", "YAML blob store config (overrides --backend/--opt)")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	logJSON := fs.Bool("log-json", false, "log as JSON")
	listBackends := fs.Bool("list-backends", false, "list supported backends and exit")
	opts := options{}
	fs.Var(opts, "opt", "backend option key=value (repeatable), e.g. --opt dir=/var/lib/auria/blobs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range storeconfig.List(storeconfig.UsageDaemon) {
			if b.Description == "" {
				fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	logger, err := logging.New(*logLevel, *logJSON)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	cfg := storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: *backend, Options: opts}}}
	if *configPath != "" {
		cfg, err = readConfig(*configPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	}
	store, closeFn, err := cfg.Open(storeconfig.UsageDaemon, "")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}

	s := grpc.NewServer()
	grpcstore.RegisterBlobStoreServer(s, &grpcstore.Server{Store: store})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		s.GracefulStop()
	}()

	logger.Info("auria-blobd listening",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("backends", backendNames(cfg)))
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error("serve failed", zap.Error(err))
		return 1
	}
	return 0
}

func readConfig(path string) (storeconfig.Config, error) {
	var cfg storeconfig.Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func backendNames(cfg storeconfig.Config) []string {
	out := make([]string, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		out = append(out, b.Name)
	}
	return out
}
