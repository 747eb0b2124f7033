package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"auria.dev/core/auria"
)

// Key layout. Ids never contain bytes <= 0x20, so 0x00 separates safely.
//
//	r\x00<node>\x00<seq:8 BE>  receipt JSON
//	k\x00<node>\x00<seq:8 BE>  receipt key of an idempotency key
//	a\x00<uuid:16>             idempotency key (node\x00seq) of a settled assembly
//	u\x00<license>             usage JSON
//	n\x00<node>                head JSON
const (
	prefixReceipt  = 'r'
	prefixKey      = 'k'
	prefixAssembly = 'a'
	prefixUsage    = 'u'
	prefixHead     = 'n'
)

func nodeKey(prefix byte, node auria.NodeID) []byte {
	k := make([]byte, 0, len(node)+3)
	k = append(k, prefix, 0)
	k = append(k, node...)
	return append(k, 0)
}

func seqKey(prefix byte, node auria.NodeID, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nodeKey(prefix, node), seq)
}

func idKey(prefix byte, id string) []byte {
	return append([]byte{prefix, 0}, id...)
}

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory; ignored when InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every append.
	SyncWrites bool
	// GCInterval runs value log GC periodically; zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64
	Logger         *zap.Logger
}

// DefaultBadgerConfig returns durable settings for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...interface{})    { l.s.Infof(f, a...) }
func (l badgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }

// BadgerStore persists the ledger in BadgerDB. Each Append is a single
// transaction.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*BadgerStore)(nil)

func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("ledger: badger path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ledger.badger")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("ledger: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{s: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: open badger: %w", err)
	}
	s := &BadgerStore{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-t.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log gc failed", zap.Error(err))
			}
		}
	}
}

func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(b []byte) error { return json.Unmarshal(b, v) })
}

func (s *BadgerStore) ByKey(ctx context.Context, key IdempotencyKey) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Receipt
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seqKey(prefixKey, key.Node, key.Seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rkey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var r Receipt
		ok, err := getJSON(txn, rkey, &r)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger: key %s points at missing receipt", key)
		}
		out = &r
		return nil
	})
	return out, err
}

func (s *BadgerStore) SettledBy(ctx context.Context, assembly uuid.UUID) (IdempotencyKey, bool, error) {
	if err := ctx.Err(); err != nil {
		return IdempotencyKey{}, false, err
	}
	var (
		k  IdempotencyKey
		ok bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = getJSON(txn, idKey(prefixAssembly, string(assembly[:])), &k)
		return err
	})
	return k, ok, err
}

func (s *BadgerStore) Consumed(ctx context.Context, id auria.LicenseID) (uint64, error) {
	u, err := s.Usage(ctx, id)
	return u.Units, err
}

func (s *BadgerStore) Usage(ctx context.Context, id auria.LicenseID) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	u := Usage{License: id}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getJSON(txn, idKey(prefixUsage, string(id)), &u)
		return err
	})
	return u, err
}

func (s *BadgerStore) Head(ctx context.Context, node auria.NodeID) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}
	var h Head
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := getJSON(txn, idKey(prefixHead, string(node)), &h)
		return err
	})
	return h, err
}

func (s *BadgerStore) Append(ctx context.Context, r *Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rb, err := json.Marshal(r)
	if err != nil {
		return err
	}
	kb, err := json.Marshal(r.Key)
	if err != nil {
		return err
	}
	rkey := seqKey(prefixReceipt, r.Node, r.Seq)
	hkey := idKey(prefixHead, string(r.Node))

	return s.db.Update(func(txn *badger.Txn) error {
		var h Head
		if _, err := getJSON(txn, hkey, &h); err != nil {
			return err
		}
		hb, err := json.Marshal(h.advance(r))
		if err != nil {
			return err
		}
		if err := txn.Set(rkey, rb); err != nil {
			return err
		}
		if err := txn.Set(seqKey(prefixKey, r.Key.Node, r.Key.Seq), rkey); err != nil {
			return err
		}
		if err := txn.Set(idKey(prefixAssembly, string(r.Request[:])), kb); err != nil {
			return err
		}
		if err := txn.Set(hkey, hb); err != nil {
			return err
		}
		for id, units := range charges(r) {
			uk := idKey(prefixUsage, string(id))
			var u Usage
			if _, err := getJSON(txn, uk, &u); err != nil {
				return err
			}
			ub, err := json.Marshal(u.charge(id, units, r))
			if err != nil {
				return err
			}
			if err := txn.Set(uk, ub); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Receipts(ctx context.Context, node auria.NodeID) ([]*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Receipt
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := nodeKey(prefixReceipt, node)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Receipt
			if err := it.Item().Value(func(b []byte) error { return json.Unmarshal(b, &r) }); err != nil {
				return err
			}
			out = append(out, &r)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Nodes(ctx context.Context) ([]auria.NodeID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []auria.NodeID
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixHead, 0}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, auria.NodeID(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Close() error {
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
