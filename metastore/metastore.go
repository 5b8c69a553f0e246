// Package metastore is the metadata plane: a badger-backed embedded store
// that is the single source of truth for assets, chunk refs, lineage,
// snapshots, branches, tags, transactions, visibility and key registries.
// Records are JSON-encoded under prefix-partitioned keys; secondary index
// keys carry no value and exist for range scans only.
package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// schemaVersion is bumped when the key layout or record encoding changes.
// Open migrates older stores forward before serving.
//
// Version history:
//
//	1: initial layout
//	2: branch history rows keyed by per-branch sequence instead of
//	   wall-clock nanoseconds
const schemaVersion = 2

// maxTxnRetries bounds how often a conflicted write transaction is rerun
// before the conflict surfaces to the caller.
const maxTxnRetries = 16

// Options configures a Store.
type Options struct {
	// SyncWrites forces an fsync on every badger commit. Required for the
	// durability contract; disable only in tests.
	SyncWrites bool
	// InMemory runs badger without files. Test use only.
	InMemory bool
	// Logger receives structured operational logs. Nil disables logging.
	Logger *slog.Logger
}

// Option is a functional option for Open.
type Option func(*Options)

// WithSyncWrites toggles per-commit fsync.
func WithSyncWrites(sync bool) Option {
	return func(o *Options) { o.SyncWrites = sync }
}

// WithInMemory runs the store without touching disk.
func WithInMemory() Option {
	return func(o *Options) { o.InMemory = true }
}

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Store is the metadata plane. All methods are safe for concurrent use;
// multi-record operations that must be atomic run inside one badger
// transaction.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (and if needed migrates) the store at path.
func Open(path string, optFns ...Option) (*Store, error) {
	opts := Options{SyncWrites: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bopts := badger.DefaultOptions(path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keySchema)
		if err == badger.ErrKeyNotFound {
			return txn.Set(keySchema, []byte{schemaVersion})
		}
		if err != nil {
			return err
		}
		var found byte
		if err := item.Value(func(val []byte) error {
			if len(val) != 1 {
				return fmt.Errorf("malformed schema version key")
			}
			found = val[0]
			return nil
		}); err != nil {
			return err
		}
		if found > schemaVersion {
			return fmt.Errorf("store schema version %d is newer than supported %d", found, schemaVersion)
		}
		if found < 2 {
			if err := migrateBranchHistoryV2(txn); err != nil {
				return err
			}
		}
		if found < schemaVersion {
			return txn.Set(keySchema, []byte{schemaVersion})
		}
		return nil
	})
}

// migrateBranchHistoryV2 renumbers v1 branch history rows, which were keyed
// by wall-clock nanoseconds, onto dense per-branch sequences and seeds the
// per-branch counters. Iteration order preserves the original ordering.
func migrateBranchHistoryV2(txn *badger.Txn) error {
	type histRow struct {
		key []byte
		val []byte
	}
	byBranch := make(map[string][]histRow)

	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         []byte(prefixBranchHist),
		PrefetchValues: true,
	})
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		// Strip the trailing "<sep><20-digit seq>" to get the branch prefix.
		if len(key) < branchHistSeqWidth+1 {
			it.Close()
			return fmt.Errorf("malformed branch history key %q", key)
		}
		prefix := string(key[:len(key)-branchHistSeqWidth-1])
		byBranch[prefix] = append(byBranch[prefix], histRow{key: key, val: val})
	}
	it.Close()

	for prefix, rows := range byBranch {
		for i, row := range rows {
			if err := txn.Delete(row.key); err != nil {
				return err
			}
			seq := uint64(i + 1)
			newKey := []byte(fmt.Sprintf("%s%s%020d", prefix, sep, seq))
			if err := txn.Set(newKey, row.val); err != nil {
				return err
			}
		}
		seqKey := []byte(prefixBranchSeq + prefix[len(prefixBranchHist):])
		val, err := json.Marshal(uint64(len(rows)))
		if err != nil {
			return err
		}
		if err := txn.Set(seqKey, val); err != nil {
			return err
		}
	}
	return nil
}

// update runs fn in a read-write transaction. Badger's snapshot isolation
// aborts a commit when a key this transaction read was written by a
// concurrently committed one; those aborts are retried with a fresh
// transaction so concurrent writers serialize instead of erroring.
// Exhausted retries surface as ErrConflict. fn must therefore be
// restartable: it may run several times and must not leak state from an
// aborted attempt.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxTxnRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return ErrConflict
}

// get loads and JSON-decodes the record at key into out.
func (s *Store) get(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func decode(val []byte, out any) error {
	return json.Unmarshal(val, out)
}

// set JSON-encodes rec and stores it at key.
func (s *Store) set(txn *badger.Txn, key []byte, rec any) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

// exists reports whether key is present.
func (s *Store) exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanKeys iterates keys under prefix, invoking fn with each full key.
// fn returning errStopIteration ends the scan without error.
func (s *Store) scanKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	it := txn.NewIterator(badger.IteratorOptions{
		Prefix:         prefix,
		PrefetchValues: false,
	})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if err := fn(key); err != nil {
			if err == errStopIteration {
				return nil
			}
			return err
		}
	}
	return nil
}

var errStopIteration = fmt.Errorf("stop iteration")
