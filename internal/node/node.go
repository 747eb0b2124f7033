// Package node wires a configured AURIA node: blob stores, the shard
// registry, hardware profiles, the expert catalog, the usage ledger and
// the execution engine.
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"auria.dev/core/assembler"
	"auria.dev/core/auria"
	"auria.dev/core/cidutil"
	"auria.dev/core/config"
	"auria.dev/core/engine"
	"auria.dev/core/hardware"
	"auria.dev/core/keys"
	"auria.dev/core/ledger"
	"auria.dev/core/license"
	"auria.dev/core/registry"
	"auria.dev/core/shard"
	"auria.dev/core/storage"

	_ "auria.dev/core/storage/grpcstore"
	_ "auria.dev/core/storage/localfs"
	_ "auria.dev/core/storage/memstore"
	"auria.dev/core/storage/storeconfig"
)

// Options are the collaborators a node cannot read from its config.
type Options struct {
	// Executor runs assembled experts. Required.
	Executor engine.Executor
	// Registerer receives the engine metrics; nil disables registration.
	Registerer prometheus.Registerer
	// KeyDir overrides the key store directory used for the ledger
	// signing key.
	KeyDir string
	Logger *zap.Logger
}

// Node is a running set of components built from one Config.
type Node struct {
	Config    config.Config
	Blobs     storage.Store
	Registry  *registry.Registry
	Profiles  *hardware.Watcher
	Catalog   *assembler.Catalog
	Ledger    *ledger.Ledger
	Assembler *assembler.Assembler
	Engine    *engine.Engine

	logger  *zap.Logger
	closers []func() error

	watchCancel context.CancelFunc
	watchDone   <-chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// Open builds every component. On failure, whatever was already opened is
// closed again.
func Open(cfg config.Config, opts Options) (_ *Node, err error) {
	if opts.Executor == nil {
		return nil, errors.New("node: executor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{Config: cfg, logger: logger.Named("node")}
	defer func() {
		if err != nil {
			_ = n.Close()
		}
	}()

	blobs, closeBlobs, err := cfg.Blobs.Open(storeconfig.UsageDaemon, "")
	if err != nil {
		return nil, fmt.Errorf("node: blobs: %w", err)
	}
	n.Blobs = blobs
	if closeBlobs != nil {
		n.closers = append(n.closers, closeBlobs)
	}

	index, err := ParseShardIndex(cfg.Node.ShardIndex)
	if err != nil {
		return nil, err
	}
	fetcher := &shard.StoreFetcher{Store: blobs, Index: index, Logger: logger}
	if cfg.Registry.FetchRate > 0 {
		fetcher.Limiter = rate.NewLimiter(rate.Limit(cfg.Registry.FetchRate), cfg.Registry.FetchBurst)
	}

	var verifier *license.Verifier
	if len(cfg.Licenses.TrustedIssuers) > 0 {
		verifier, err = license.NewVerifier(cfg.Licenses.TrustedIssuers...)
		if err != nil {
			return nil, fmt.Errorf("node: trusted issuers: %w", err)
		}
	}
	n.Registry = registry.New(fetcher, registry.Options{
		FetchTimeout: cfg.Registry.FetchTimeout,
		AwaitTimeout: cfg.Registry.AwaitTimeout,
		Verifier:     verifier,
		Logger:       logger,
	})
	n.closers = append(n.closers, n.Registry.Close)

	for _, path := range cfg.Licenses.Files {
		lic, err := ReadLicense(path)
		if err != nil {
			return nil, err
		}
		if err := n.Registry.BindLicense(lic); err != nil {
			return nil, fmt.Errorf("node: %s: %w", path, err)
		}
	}

	n.Catalog = assembler.NewCatalog()
	if cfg.Node.ExpertsFile != "" {
		experts, err := ReadExperts(cfg.Node.ExpertsFile)
		if err != nil {
			return nil, err
		}
		for _, e := range experts {
			if err := n.Catalog.Publish(e); err != nil {
				return nil, fmt.Errorf("node: %s: %w", cfg.Node.ExpertsFile, err)
			}
		}
	}

	n.Profiles, err = hardware.NewWatcher(cfg.Node.ProfilesFile, logger)
	if err != nil {
		return nil, fmt.Errorf("node: profiles: %w", err)
	}
	reqs, err := cfg.Requirements()
	if err != nil {
		return nil, err
	}
	resolver, err := hardware.NewResolver(reqs)
	if err != nil {
		return nil, err
	}

	store, err := OpenLedgerStore(cfg.Ledger, logger)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, store.Close)

	var signer keys.Signer
	if cfg.Ledger.SigningKey != "" {
		gs, err := loadSigner(opts.KeyDir, cfg.Ledger.SigningKey)
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, func() error { gs.Destroy(); return nil })
		signer = gs
	}
	n.Ledger = ledger.New(store, ledger.Options{Signer: signer, Logger: logger})

	n.Assembler = assembler.New(n.Catalog, n.Registry, resolver, assembler.Options{
		Validator:   license.Validator{Usage: n.Ledger, Limits: license.NewLimiters()},
		Parallelism: cfg.Assembler.Parallelism,
		Logger:      logger,
	})

	var metrics *engine.Metrics
	if opts.Registerer != nil {
		metrics = engine.NewMetrics(opts.Registerer)
	}
	n.Engine, err = engine.New(engine.Options{
		Profiles:  n.Profiles,
		Assembler: n.Assembler,
		Ledger:    n.Ledger,
		Executor:  opts.Executor,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	n.logger.Info("node ready",
		zap.String("node", string(cfg.Node.ID)),
		zap.Strings("experts", expertNames(n.Catalog)),
		zap.String("ledger", cfg.Ledger.Backend))
	return n, nil
}

// OpenLedgerStore opens the configured receipt store.
func OpenLedgerStore(cfg config.LedgerConfig, logger *zap.Logger) (ledger.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return ledger.NewMemoryStore(), nil
	case "badger":
		bc := ledger.DefaultBadgerConfig(cfg.Path)
		bc.SyncWrites = cfg.SyncWrites
		bc.Logger = logger
		s, err := ledger.OpenBadger(bc)
		if err != nil {
			return nil, fmt.Errorf("node: ledger: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("node: unknown ledger backend %q", cfg.Backend)
	}
}

func loadSigner(dir, name string) (*keys.GuardedSigner, error) {
	ks, err := keys.OpenKeyStore(dir)
	if err != nil {
		return nil, err
	}
	seed, err := ks.Seed(name, "")
	if err != nil {
		return nil, fmt.Errorf("node: signing key %q: %w", name, err)
	}
	return keys.NewGuardedSigner(seed)
}

func expertNames(c *assembler.Catalog) []string {
	ids := c.IDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// Watch reloads hardware profiles on file changes until Close. The file
// watch is registered before Watch returns.
func (n *Node) Watch() error {
	if n.watchDone != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	done, err := n.Profiles.Start(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("node: watch profiles: %w", err)
	}
	n.watchCancel = cancel
	n.watchDone = done
	return nil
}

// Close stops the watcher and closes components in reverse order.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		if n.watchCancel != nil {
			n.watchCancel()
			<-n.watchDone
		}
		for i := len(n.closers) - 1; i >= 0; i-- {
			if err := n.closers[i](); err != nil && n.closeErr == nil {
				n.closeErr = err
			}
		}
	})
	return n.closeErr
}

// ParseShardIndex parses the configured shard id to CID map.
func ParseShardIndex(m map[auria.ShardID]string) (map[auria.ShardID]cid.Cid, error) {
	out := make(map[auria.ShardID]cid.Cid, len(m))
	for id, s := range m {
		if err := auria.CheckID("shard", string(id)); err != nil {
			return nil, fmt.Errorf("node: shard index: %w", err)
		}
		c, err := cidutil.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("node: shard index %q: %w", id, err)
		}
		out[id] = c
	}
	return out, nil
}

// ReadLicense decodes one license document.
func ReadLicense(path string) (*license.License, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("node: license: %w", err)
	}
	lic, err := license.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("node: license %s: %w", path, err)
	}
	return lic, nil
}

// ExpertsFile is the on-disk expert catalog:
//
//	experts:
//	  - id: summarize-v1
//	    slots:
//	      - shard: attn-0
//	        tensors:
//	          - {name: wq, shape: [64, 64], dtype: int8}
type ExpertsFile struct {
	Experts []*assembler.Expert `yaml:"experts"`
}

// ReadExperts decodes an experts file.
func ReadExperts(path string) ([]*assembler.Expert, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("node: experts: %w", err)
	}
	var f ExpertsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("node: experts %s: %w", path, err)
	}
	return f.Experts, nil
}

// Echo returns the inputs unchanged and charges one token per byte. It
// stands in for a kernel runtime in dry runs.
var Echo = engine.ExecutorFunc(func(ctx context.Context, a *assembler.AssembledExpert, inputs []byte) (engine.Output, error) {
	if err := ctx.Err(); err != nil {
		return engine.Output{}, err
	}
	return engine.Output{Data: inputs, Tokens: uint64(len(inputs))}, nil
})
