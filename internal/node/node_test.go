package node

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"auria.dev/core/auria"
	"auria.dev/core/config"
	"auria.dev/core/engine"
	"auria.dev/core/keys"
	"auria.dev/core/license"
	"auria.dev/core/shard"
	"auria.dev/core/storage/localfs"
	"auria.dev/core/storage/storeconfig"
	"auria.dev/core/tensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/dgraph-io/ristretto/v2/z.(*AllocatorPool).freeupAllocators"))
}

const profilesYAML = `profiles:
  - node: node-a
    compute: 8
    memory_bytes: 17179869184
    dtypes: [int8, int4]
`

const expertsYAML = `experts:
  - id: E1
    slots:
      - shard: S1
        tensors:
          - {name: w, shape: [4, 4], dtype: int8}
      - shard: S2
        tensors:
          - {name: w, shape: [4, 4], dtype: int8}
`

func writeFile(t *testing.T, path string, b []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

// fixture lays out a node directory: profiles, experts, published shard
// blobs and one license per shard.
func fixture(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	blobDir := filepath.Join(dir, "blobs")
	blobs, err := localfs.New(blobDir)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Node.ID = "node-a"
	cfg.Node.ProfilesFile = writeFile(t, filepath.Join(dir, "profiles.yaml"), []byte(profilesYAML))
	cfg.Node.ExpertsFile = writeFile(t, filepath.Join(dir, "experts.yaml"), []byte(expertsYAML))
	cfg.Node.ShardIndex = map[auria.ShardID]string{}
	cfg.Blobs = storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "localfs", Options: map[string]string{"dir": blobDir}}}}
	cfg.Ledger = config.LedgerConfig{Backend: "badger", Path: filepath.Join(dir, "ledger"), SyncWrites: true}

	for _, id := range []auria.ShardID{"S1", "S2"} {
		w, err := tensor.Zeros([]int{4, 4}, tensor.INT8)
		require.NoError(t, err)
		s, err := shard.New(id, []auria.ExpertID{"E1"}, auria.Nano, map[string]*tensor.Tensor{"w": w}, shard.Meta{Owner: "acme", Version: 1})
		require.NoError(t, err)
		c, err := shard.Publish(context.Background(), blobs, s)
		require.NoError(t, err)
		cfg.Node.ShardIndex[id] = c.String()

		b, err := license.Encode(&license.License{
			ID:        auria.LicenseID("L-" + string(id)),
			Shard:     id,
			Bundle:    "B1",
			Scope:     license.Scope{Nodes: []auria.NodeID{"node-a"}},
			NotBefore: time.Now().Add(-time.Hour),
			NotAfter:  time.Now().Add(24 * time.Hour),
			Quota:     2,
		})
		require.NoError(t, err)
		cfg.Licenses.Files = append(cfg.Licenses.Files, writeFile(t, filepath.Join(dir, "L-"+string(id)+".json"), b))
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpen_ExecutesAndSettles(t *testing.T) {
	cfg := fixture(t)
	n, err := Open(cfg, Options{Executor: Echo, Registerer: prometheus.NewRegistry(), Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer n.Close()

	ctx := context.Background()
	res, err := n.Engine.RequestExecution(ctx, engine.Request{Expert: "E1", Node: "node-a", Tier: auria.Standard, Inputs: []byte("hello")})
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), res.Output.Data)
	require.Equal(t, uint64(1), res.Receipt.Seq)
	require.Equal(t, uint64(5), res.Receipt.Tokens)

	used, err := n.Ledger.Consumed("L-S1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), used)
	require.NoError(t, n.Ledger.Audit(ctx, "node-a", ""))
}

func TestOpen_LedgerSurvivesRestart(t *testing.T) {
	cfg := fixture(t)
	ctx := context.Background()
	req := engine.Request{Expert: "E1", Node: "node-a", Tier: auria.Standard, Inputs: []byte("x")}

	n, err := Open(cfg, Options{Executor: Echo})
	require.NoError(t, err)
	_, err = n.Engine.RequestExecution(ctx, req)
	require.NoError(t, err)
	require.NoError(t, n.Close())

	n, err = Open(cfg, Options{Executor: Echo})
	require.NoError(t, err)
	defer n.Close()
	res, err := n.Engine.RequestExecution(ctx, req)
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Receipt.Seq)

	// Quota is 2 per license; the third settlement is refused.
	_, err = n.Engine.RequestExecution(ctx, req)
	require.True(t, auria.IsKind(err, auria.KindLicenseInvalid), "got %v", err)
}

func TestOpen_SignedReceipts(t *testing.T) {
	cfg := fixture(t)
	keyDir := t.TempDir()
	ks, err := keys.OpenKeyStore(keyDir)
	require.NoError(t, err)
	pub, _, err := ks.InitRoot("ledger", make([]byte, 32), false)
	require.NoError(t, err)
	cfg.Ledger.SigningKey = "ledger"

	n, err := Open(cfg, Options{Executor: Echo, KeyDir: keyDir})
	require.NoError(t, err)
	defer n.Close()

	ctx := context.Background()
	res, err := n.Engine.RequestExecution(ctx, engine.Request{Expert: "E1", Node: "node-a", Tier: auria.Nano})
	require.NoError(t, err)
	require.Equal(t, pub, res.Receipt.Signer)
	require.NoError(t, n.Ledger.Audit(ctx, "node-a", pub))
}

func TestOpen_RejectsBadInputs(t *testing.T) {
	cases := map[string]func(*config.Config){
		"missing profiles": func(c *config.Config) { c.Node.ProfilesFile = filepath.Join(t.TempDir(), "none.yaml") },
		"bad shard index":  func(c *config.Config) { c.Node.ShardIndex["S1"] = "not-a-cid" },
		"missing license":  func(c *config.Config) { c.Licenses.Files = append(c.Licenses.Files, "/nonexistent.json") },
		"unknown issuer":   func(c *config.Config) { c.Licenses.TrustedIssuers = []string{keys.PublicKeyFromSeed(make([]byte, 32))} },
		"missing key":      func(c *config.Config) { c.Ledger.SigningKey = "nobody" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := fixture(t)
			mutate(&cfg)
			n, err := Open(cfg, Options{Executor: Echo, KeyDir: t.TempDir()})
			require.Error(t, err)
			require.Nil(t, n)
		})
	}
}

func TestOpen_RequiresExecutor(t *testing.T) {
	_, err := Open(fixture(t), Options{})
	require.Error(t, err)
}

func TestWatch_ReloadsProfiles(t *testing.T) {
	cfg := fixture(t)
	n, err := Open(cfg, Options{Executor: Echo})
	require.NoError(t, err)
	defer n.Close()
	require.NoError(t, n.Watch())

	_, err = n.Engine.RequestExecution(context.Background(), engine.Request{Expert: "E1", Node: "node-b", Tier: auria.Nano})
	require.True(t, auria.IsKind(err, auria.KindInsufficientHardware), "got %v", err)

	v := n.Profiles.Version()
	doc := profilesYAML + "  - node: node-b\n    compute: 2\n    memory_bytes: 4294967296\n    dtypes: [int8, int4]\n"
	writeFile(t, cfg.Node.ProfilesFile, []byte(doc))
	require.Eventually(t, func() bool {
		_, ok := n.Profiles.Profile("node-b")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	require.Greater(t, n.Profiles.Version(), v)

	// node-b now passes the hardware gate; its licenses are scoped to node-a.
	_, err = n.Engine.RequestExecution(context.Background(), engine.Request{Expert: "E1", Node: "node-b", Tier: auria.Nano})
	require.True(t, auria.IsKind(err, auria.KindLicenseInvalid), "got %v", err)
}

func TestReadExperts(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "e.yaml"), []byte(expertsYAML))
	es, err := ReadExperts(path)
	require.NoError(t, err)
	require.Len(t, es, 1)
	require.Equal(t, auria.ExpertID("E1"), es[0].ID)
	require.Equal(t, tensor.INT8, es[0].Slots[1].Tensors[0].DType)
}
