package metastore

import (
	"bytes"
	"context"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
)

// NamespaceInfo summarizes one namespace for introspection.
type NamespaceInfo struct {
	Name      string
	Assets    uint64
	Snapshots uint64
}

// Namespaces returns per-namespace asset and snapshot counts, sorted by
// name. Counts include pending (not yet visible) assets.
func (s *Store) Namespaces(ctx context.Context) ([]NamespaceInfo, error) {
	counts := make(map[string]*NamespaceInfo)
	at := func(name string) *NamespaceInfo {
		info, ok := counts[name]
		if !ok {
			info = &NamespaceInfo{Name: name}
			counts[name] = info
		}
		return info
	}

	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanKeys(txn, []byte(prefixAsset), func(key []byte) error {
			at(middleField(key, prefixAsset)).Assets++
			return nil
		}); err != nil {
			return err
		}
		return s.scanKeys(txn, []byte(prefixSnapByNS), func(key []byte) error {
			at(middleField(key, prefixSnapByNS)).Snapshots++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	infos := make([]NamespaceInfo, 0, len(counts))
	for _, info := range counts {
		infos = append(infos, *info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// middleField extracts the namespace field from a <prefix><ns><sep><id> key.
func middleField(key []byte, prefix string) string {
	rest := key[len(prefix):]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}
