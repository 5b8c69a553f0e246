package metastore

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/aifs-project/aifs/model"
)

// AddLineageEdges records the given edges with their reverse mirrors in one
// transaction. Cycle detection is the caller's job; the store only records.
func (s *Store) AddLineageEdges(ctx context.Context, edges []model.LineageEdge) error {
	if len(edges) == 0 {
		return nil
	}
	return s.update(func(txn *badger.Txn) error {
		for _, edge := range edges {
			if err := s.set(txn, lineageUpKey(edge.Child, edge.Parent), edge); err != nil {
				return err
			}
			if err := txn.Set(lineageDownKey(edge.Parent, edge.Child), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// Parents returns the lineage edges naming id as child.
func (s *Store) Parents(ctx context.Context, id model.ID) ([]model.LineageEdge, error) {
	var edges []model.LineageEdge
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefixLineageUp + id.String() + sep),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var edge model.LineageEdge
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &edge)
			}); err != nil {
				return err
			}
			edges = append(edges, edge)
		}
		return nil
	})
	return edges, err
}

// Children returns the ids of assets derived from id.
func (s *Store) Children(ctx context.Context, id model.ID) ([]model.ID, error) {
	var children []model.ID
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanKeys(txn, []byte(prefixLineageDown+id.String()+sep), func(key []byte) error {
			child, err := model.ParseID(lastField(key))
			if err != nil {
				return err
			}
			children = append(children, child)
			return nil
		})
	})
	return children, err
}

// Ancestors walks the lineage DAG upward from id, breadth first, and returns
// every reachable ancestor id. Used for cycle checks before inserting edges.
func (s *Store) Ancestors(ctx context.Context, id model.ID) (map[model.ID]struct{}, error) {
	seen := make(map[model.ID]struct{})
	queue := []model.ID{id}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		parents, err := s.Parents(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, edge := range parents {
			if _, ok := seen[edge.Parent]; ok {
				continue
			}
			seen[edge.Parent] = struct{}{}
			queue = append(queue, edge.Parent)
		}
	}
	return seen, nil
}
