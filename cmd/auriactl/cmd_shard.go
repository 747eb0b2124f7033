package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/spf13/cobra"

	"auria.dev/core/auria"
	"auria.dev/core/cidutil"
	"auria.dev/core/shard"
	"auria.dev/core/storage"
	"auria.dev/core/storage/bundle"
	"auria.dev/core/storage/storeconfig"
	"auria.dev/core/tensor"

	_ "auria.dev/core/storage/grpcstore"
	_ "auria.dev/core/storage/localfs"
	_ "auria.dev/core/storage/memstore"
)

// blobFlags choose the blob store: --blob-dir opens a local directory,
// otherwise the blobs section of --config is used.
type blobFlags struct {
	dir     string
	backend string
}

func (b *blobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&b.dir, "blob-dir", "", "local blob directory (instead of the config's blob stores)")
	cmd.Flags().StringVar(&b.backend, "backend", "", "preferred backend id from the config for writes")
}

func (b *blobFlags) open(c *cli) (storage.Store, func() error, error) {
	if b.dir != "" {
		cfg := storeconfig.Config{Backends: []storeconfig.BackendConfig{{Name: "localfs", Options: map[string]string{"dir": b.dir}}}}
		return cfg.Open(storeconfig.UsageCLI, "")
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg.Blobs.Open(storeconfig.UsageCLI, b.backend)
}

func closeQuietly(fn func() error) {
	if fn != nil {
		_ = fn()
	}
}

func newShardCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shard",
		Short: "Build, store and inspect shard blobs",
	}
	cmd.AddCommand(newShardPackCmd(c), newShardPutCmd(c), newShardInspectCmd(c))
	return cmd
}

// parseTensorFlag reads "name:4x4:int8" or "name:4x4:int8=path". Without a
// path the tensor is zero-filled.
func parseTensorFlag(s string) (string, *tensor.Tensor, error) {
	spec, path, hasPath := strings.Cut(s, "=")
	parts := strings.Split(spec, ":")
	if len(parts) != 3 || parts[0] == "" {
		return "", nil, fmt.Errorf("tensor %q: want name:shape:dtype[=file]", s)
	}
	var shape []int
	for _, d := range strings.Split(parts[1], "x") {
		n, err := strconv.Atoi(d)
		if err != nil {
			return "", nil, fmt.Errorf("tensor %q: bad dimension %q", s, d)
		}
		shape = append(shape, n)
	}
	dt, err := tensor.ParseDType(parts[2])
	if err != nil {
		return "", nil, fmt.Errorf("tensor %q: %w", s, err)
	}
	if !hasPath {
		t, err := tensor.Zeros(shape, dt)
		return parts[0], t, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	t, err := tensor.New(shape, dt, data)
	return parts[0], t, err
}

func newShardPackCmd(c *cli) *cobra.Command {
	var (
		id, minTier, owner, outPath string
		experts, tensors            []string
		version                     uint32
		bf                          blobFlags
	)
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Encode a shard from tensor files and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := auria.ParseTier(minTier)
			if err != nil {
				return usageError{err}
			}
			ts := make(map[string]*tensor.Tensor, len(tensors))
			for _, spec := range tensors {
				name, t, err := parseTensorFlag(spec)
				if err != nil {
					return usageError{err}
				}
				ts[name] = t
			}
			var eids []auria.ExpertID
			for _, e := range experts {
				eids = append(eids, auria.ExpertID(e))
			}
			s, err := shard.New(auria.ShardID(id), eids, tier, ts, shard.Meta{Owner: owner, Version: version, CreatedAt: time.Now().UTC().Truncate(time.Second)})
			if err != nil {
				return usageError{err}
			}
			b, err := shard.Encode(s)
			if err != nil {
				return err
			}
			if outPath != "" {
				if err := os.WriteFile(outPath, b, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.ID(), cidutil.String(b))
				return nil
			}
			store, closeFn, err := bf.open(c)
			if err != nil {
				return err
			}
			defer closeQuietly(closeFn)
			blobID, err := store.Put(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.ID(), blobID)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&id, "id", "", "shard id")
	f.StringSliceVar(&experts, "expert", nil, "expert the shard belongs to (repeatable; default any)")
	f.StringVar(&minTier, "min-tier", "nano", "lowest tier allowed to load the shard")
	f.StringArrayVar(&tensors, "tensor", nil, "tensor name:shape:dtype[=file], shape like 64x64 (repeatable)")
	f.StringVar(&owner, "owner", "", "owner public key")
	f.Uint32Var(&version, "shard-version", 1, "shard version")
	f.StringVarP(&outPath, "out", "o", "", "write the encoded blob to a file instead of a store")
	bf.register(cmd)
	return cmd
}

func newShardPutCmd(c *cli) *cobra.Command {
	var bf blobFlags
	cmd := &cobra.Command{
		Use:   "put <blob>...",
		Short: "Store encoded shard blobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := bf.open(c)
			if err != nil {
				return err
			}
			defer closeQuietly(closeFn)
			for _, path := range args {
				b, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				s, err := shard.Decode(b)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				id, err := store.Put(cmd.Context(), b)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.ID(), id)
			}
			return nil
		},
	}
	bf.register(cmd)
	return cmd
}

type tensorSummary struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
	Bytes int    `json:"bytes"`
}

type shardSummary struct {
	ID      string          `json:"id"`
	CID     string          `json:"cid"`
	Experts []string        `json:"experts,omitempty"`
	MinTier string          `json:"minTier"`
	Meta    shard.Meta      `json:"meta"`
	Tensors []tensorSummary `json:"tensors"`
}

func newShardInspectCmd(c *cli) *cobra.Command {
	var bf blobFlags
	cmd := &cobra.Command{
		Use:   "inspect <cid>",
		Short: "Decode a stored shard and print its layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cidutil.Parse(args[0])
			if err != nil {
				return usageError{err}
			}
			store, closeFn, err := bf.open(c)
			if err != nil {
				return err
			}
			defer closeQuietly(closeFn)
			b, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			s, err := shard.Decode(b)
			if err != nil {
				return err
			}
			sum := shardSummary{ID: string(s.ID()), CID: id.String(), MinTier: s.MinTier().String(), Meta: s.Meta()}
			for _, e := range s.Experts() {
				sum.Experts = append(sum.Experts, string(e))
			}
			for _, name := range s.TensorNames() {
				t, _ := s.Tensor(name)
				sum.Tensors = append(sum.Tensors, tensorSummary{Name: name, Shape: t.Shape(), DType: t.DType().String(), Bytes: t.ByteLen()})
			}
			return writeJSON(cmd.OutOrStdout(), sum)
		},
	}
	bf.register(cmd)
	return cmd
}

func newBundleCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Move shard blobs between stores as TAR bundles",
	}
	cmd.AddCommand(newBundleExportCmd(c), newBundleImportCmd(c))
	return cmd
}

func newBundleExportCmd(c *cli) *cobra.Command {
	var (
		shards  []string
		outPath string
		bf      blobFlags
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the blobs of the given shards to a bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(shards) == 0 || outPath == "" {
				return usagef("--shard and --out are required")
			}
			entries := make([]bundle.Entry, 0, len(shards))
			for _, s := range shards {
				id, raw, ok := strings.Cut(s, "=")
				if !ok {
					return usagef("--shard %q: want id=cid", s)
				}
				parsed, err := cidutil.Parse(raw)
				if err != nil {
					return usagef("--shard %q: %v", s, err)
				}
				entries = append(entries, bundle.Entry{Shard: auria.ShardID(id), CID: parsed})
			}
			store, closeFn, err := bf.open(c)
			if err != nil {
				return err
			}
			defer closeQuietly(closeFn)

			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := bundle.Export(cmd.Context(), f, store, entries, bundle.ExportOptions{}); err != nil {
				_ = f.Close()
				_ = os.Remove(outPath)
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringArrayVar(&shards, "shard", nil, "shard to include as id=cid (repeatable)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "bundle file to write")
	bf.register(cmd)
	return cmd
}

func newBundleImportCmd(c *cli) *cobra.Command {
	var (
		ignoreUnknown bool
		bf            blobFlags
	)
	cmd := &cobra.Command{
		Use:   "import <bundle.tar>",
		Short: "Store every blob of a bundle and print its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := bf.open(c)
			if err != nil {
				return err
			}
			defer closeQuietly(closeFn)

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			m, err := bundle.Import(cmd.Context(), f, store, bundle.ImportOptions{IgnoreUnknown: ignoreUnknown})
			if err != nil {
				return err
			}
			printManifest(cmd, m)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreUnknown, "ignore-unknown", false, "skip unrecognized archive entries")
	bf.register(cmd)
	return cmd
}

func printManifest(cmd *cobra.Command, m bundle.Manifest) {
	ids := make([]string, 0, len(m))
	byID := make(map[string]cid.Cid, len(m))
	for id, c := range m {
		ids = append(ids, string(id))
		byID[string(id)] = c
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, byID[id])
	}
}
