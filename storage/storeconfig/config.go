// Package storeconfig opens one or more blob store backends from
// configuration and composes them into a single storage.Store.
package storeconfig

import (
	"errors"
	"fmt"

	"auria.dev/core/storage"
)

// Config describes how to open the blob stores that hold shard blobs.
//
// WritePolicy values:
//   - "first" (default): write only to the first backend; reads fall back in order
//   - "all": write to all backends and require CID equality (storage.Replicating)
//
// Example (YAML, as embedded in the node config):
//
//	blobs:
//	  write_policy: all
//	  backends:
//	    - name: localfs
//	      options: {dir: /var/lib/auria/blobs}
//	    - name: grpc
//	      id: upstream
//	      options: {target: "blobs.internal:7777"}
type Config struct {
	WritePolicy string          `json:"write_policy,omitempty" yaml:"write_policy,omitempty"`
	Backends    []BackendConfig `json:"backends" yaml:"backends"`
}

type BackendConfig struct {
	// Name is the registered backend name (e.g. "localfs", "grpc", "memory").
	Name string `json:"name" yaml:"name"`
	// ID is an optional stable alias used in logs and per-backend CID maps.
	// If empty, Name is used.
	ID      string            `json:"id,omitempty" yaml:"id,omitempty"`
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

func (b BackendConfig) key() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("storeconfig: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("storeconfig: backend name is required")
		}
		if _, ok := seen[b.key()]; ok {
			return fmt.Errorf("storeconfig: duplicate backend id %q", b.key())
		}
		seen[b.key()] = struct{}{}
	}
	switch c.WritePolicy {
	case "", "first", "all":
		return nil
	default:
		return fmt.Errorf("storeconfig: invalid write_policy %q", c.WritePolicy)
	}
}

// Open opens a store per config.
//
// If preferred is non-empty, backends are reordered so preferred is first
// (and thus used for writes when WritePolicy is "first").
func (c Config) Open(usage Usage, preferred string) (storage.Store, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferred || ordered[i].ID == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("storeconfig: preferred backend %q not found in config", preferred)
		}
		if idx != 0 {
			b := ordered[idx]
			copy(ordered[1:idx+1], ordered[0:idx])
			ordered[0] = b
		}
	}

	named := make([]storage.Named, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, b := range ordered {
		s, closeFn, err := OpenWithConfig(b.Name, usage, b.Options)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("storeconfig: open %q: %w", b.key(), err)
		}
		named = append(named, storage.Named{Name: b.key(), Store: s})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	if len(named) == 1 {
		return named[0].Store, closeAll, nil
	}

	switch c.WritePolicy {
	case "", "first":
		stores := make([]storage.Store, 0, len(named))
		for _, n := range named {
			stores = append(stores, n.Store)
		}
		return storage.Fallback{Stores: stores}, closeAll, nil
	default:
		return storage.Replicating{Backends: named}, closeAll, nil
	}
}
