// Package bundle packs shard blobs into a deterministic TAR archive for
// offline provisioning of nodes, and unpacks such archives into a store.
//
// Layout:
//
//	blobs/<cid>      raw blob bytes, one entry per distinct CID
//	manifest.json    shard id -> cid map (optional, non-authoritative)
//
// Every blob is verified against its CID on both export and import.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"auria.dev/core/auria"
	"auria.dev/core/cidutil"
	"auria.dev/core/storage"
)

// FormatVersion is the current manifest schema version.
const FormatVersion = 1

const (
	blobPrefix   = "blobs/"
	manifestName = "manifest.json"
)

var epoch = time.Unix(0, 0).UTC()

// Entry names one shard blob to export.
type Entry struct {
	Shard auria.ShardID
	CID   cid.Cid
}

// Manifest maps shard ids to the CID of their encoded blob.
type Manifest map[auria.ShardID]cid.Cid

type ExportOptions struct {
	// OmitManifest drops manifest.json; the archive then carries bare blobs.
	OmitManifest bool
}

// Export writes a TAR bundle containing the blobs for entries.
//
// Output bytes depend only on the set of entries: blob order is by CID
// string and TAR headers are normalized.
func Export(ctx context.Context, w io.Writer, store storage.Store, entries []Entry, opts ExportOptions) (err error) {
	if store == nil {
		return fmt.Errorf("bundle: nil store")
	}

	byCID := make(map[string]cid.Cid, len(entries))
	manifest := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.CID.Defined() {
			return storage.ErrInvalidCID
		}
		if err := auria.CheckID("shard", string(e.Shard)); err != nil {
			return fmt.Errorf("bundle: %w", err)
		}
		if prev, ok := manifest[string(e.Shard)]; ok && prev != e.CID.String() {
			return fmt.Errorf("bundle: shard %q listed with two CIDs", e.Shard)
		}
		byCID[e.CID.String()] = e.CID
		manifest[string(e.Shard)] = e.CID.String()
	}

	keys := make([]string, 0, len(byCID))
	for k := range byCID {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tar.NewWriter(w)
	defer func() {
		if cerr := tw.Close(); err == nil {
			err = cerr
		}
	}()

	for _, k := range keys {
		id := byCID[k]
		b, err := store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("bundle: get %s: %w", k, err)
		}
		if err := cidutil.Verify(id, b); err != nil {
			return storage.ErrCIDMismatch
		}
		if err := writeFile(tw, blobPrefix+k, b); err != nil {
			return err
		}
	}

	if opts.OmitManifest {
		return nil
	}
	b, err := marshalManifest(manifest)
	if err != nil {
		return err
	}
	return writeFile(tw, manifestName, b)
}

type ImportOptions struct {
	// IgnoreUnknown skips unrecognized TAR entries instead of failing.
	IgnoreUnknown bool
}

// Import reads a bundle from r, stores every blob in store, and returns the
// manifest (empty when the bundle has none). Manifest entries must refer to
// blobs present in the same bundle.
func Import(ctx context.Context, r io.Reader, store storage.Store, opts ImportOptions) (Manifest, error) {
	if store == nil {
		return nil, fmt.Errorf("bundle: nil store")
	}

	tr := tar.NewReader(r)
	seen := map[cid.Cid]struct{}{}
	var raw map[string]string

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("bundle: invalid entry path: %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			if opts.IgnoreUnknown {
				continue
			}
			return nil, fmt.Errorf("bundle: unexpected tar entry type: %v (%s)", h.Typeflag, name)
		}

		switch {
		case name == manifestName:
			if raw != nil {
				return nil, fmt.Errorf("bundle: duplicate manifest")
			}
			var m manifestJSON
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return nil, fmt.Errorf("bundle: manifest: %w", err)
			}
			if m.Version != FormatVersion {
				return nil, fmt.Errorf("bundle: unsupported manifest version %d", m.Version)
			}
			raw = m.Shards
			if raw == nil {
				raw = map[string]string{}
			}

		case strings.HasPrefix(name, blobPrefix):
			id, err := cidutil.Parse(strings.TrimPrefix(name, blobPrefix))
			if err != nil {
				return nil, storage.ErrInvalidCID
			}
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("bundle: duplicate blob entry: %s", id)
			}
			payload, err := io.ReadAll(tr)
			if err != nil {
				return nil, err
			}
			if err := cidutil.Verify(id, payload); err != nil {
				return nil, storage.ErrCIDMismatch
			}
			got, err := store.Put(ctx, payload)
			if err != nil {
				return nil, err
			}
			if got != id {
				return nil, storage.ErrCIDMismatch
			}
			seen[id] = struct{}{}

		default:
			if !opts.IgnoreUnknown {
				return nil, fmt.Errorf("bundle: unknown entry: %s", name)
			}
		}
	}

	out := make(Manifest, len(raw))
	for shard, s := range raw {
		id, err := cidutil.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("bundle: manifest entry %q: %w", shard, storage.ErrInvalidCID)
		}
		if _, ok := seen[id]; !ok {
			return nil, fmt.Errorf("bundle: manifest entry %q refers to missing blob %s", shard, s)
		}
		out[auria.ShardID(shard)] = id
	}
	return out, nil
}

type manifestJSON struct {
	Version   int               `json:"version"`
	CIDCodec  string            `json:"cidCodec"`
	Multihash string            `json:"multihash"`
	Shards    map[string]string `json:"shards"`
}

func marshalManifest(shards map[string]string) ([]byte, error) {
	// encoding/json sorts map keys, so output is stable.
	b, err := json.Marshal(manifestJSON{
		Version:   FormatVersion,
		CIDCodec:  "raw",
		Multihash: "sha2-256",
		Shards:    shards,
	})
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return name
}
