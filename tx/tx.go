// Package tx implements the transaction manager that gates asset visibility.
// A transaction collects newly written assets and their declared parent
// dependencies while pending; commit verifies every parent is visible and
// flips visibility of all attached assets in one durable metadata
// transaction. Only committed and rolled_back are terminal.
package tx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
)

var (
	// ErrUnknownTx is returned for transaction ids this manager never issued
	// or already retired.
	ErrUnknownTx = errors.New("unknown transaction")

	// ErrNotPending is returned when attaching to a transaction that left
	// the pending state.
	ErrNotPending = errors.New("transaction is not pending")
)

// ParentNotVisibleError fails a commit whose declared parent has not been
// committed by its own transaction.
type ParentNotVisibleError struct {
	Tx     model.TxID
	Parent model.ID
}

func (e *ParentNotVisibleError) Error() string {
	return fmt.Sprintf("commit %s: parent %s is not visible", e.Tx, e.Parent)
}

type txState struct {
	rec model.TxRecord
}

// Manager drives the transaction state machine. The in-memory table is the
// fast path; every transition is mirrored to the metadata store before it is
// acknowledged.
type Manager struct {
	mu     sync.Mutex
	store  *metastore.Store
	active map[model.TxID]*txState
	logger *slog.Logger
}

// Option is a functional option for NewManager.
type Option func(*Manager)

// WithLogger sets the logger for the manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a transaction manager over the metadata store.
func NewManager(store *metastore.Store, optFns ...Option) *Manager {
	m := &Manager{
		store:  store,
		active: make(map[model.TxID]*txState),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(m)
	}
	return m
}

// Begin opens a new pending transaction and returns its id.
func (m *Manager) Begin(ctx context.Context) (model.TxID, error) {
	rec := model.TxRecord{
		ID:        model.TxID(uuid.NewString()),
		State:     model.TxPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.PutTx(ctx, rec); err != nil {
		return "", fmt.Errorf("persist transaction: %w", err)
	}

	m.mu.Lock()
	m.active[rec.ID] = &txState{rec: rec}
	m.mu.Unlock()

	m.logger.DebugContext(ctx, "transaction begun", slog.String("tx", string(rec.ID)))
	return rec.ID, nil
}

// AddAsset attaches a newly written asset to a pending transaction.
func (m *Manager) AddAsset(ctx context.Context, id model.TxID, assetID model.ID) error {
	return m.attach(ctx, id, func(rec *model.TxRecord) {
		rec.Assets = append(rec.Assets, assetID)
	})
}

// AddDependency declares that the transaction's assets depend on parent.
// Commit fails unless every declared parent is visible.
func (m *Manager) AddDependency(ctx context.Context, id model.TxID, parent model.ID) error {
	return m.attach(ctx, id, func(rec *model.TxRecord) {
		rec.Deps = append(rec.Deps, parent)
	})
}

func (m *Manager) attach(ctx context.Context, id model.TxID, mutate func(*model.TxRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.active[id]
	if !ok {
		return ErrUnknownTx
	}
	if st.rec.State != model.TxPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, st.rec.State)
	}

	updated := st.rec
	updated.Assets = append([]model.ID(nil), st.rec.Assets...)
	updated.Deps = append([]model.ID(nil), st.rec.Deps...)
	mutate(&updated)

	if err := m.store.PutTx(ctx, updated); err != nil {
		return fmt.Errorf("persist transaction: %w", err)
	}
	st.rec = updated
	return nil
}

// Commit drives pending → committing → committed. Every declared parent must
// be visible when the commit runs; otherwise the transaction moves to failed
// and the caller decides whether to roll back. On success the visibility of
// all attached assets flips atomically with the state change.
func (m *Manager) Commit(ctx context.Context, id model.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.active[id]
	if !ok {
		return ErrUnknownTx
	}
	if st.rec.State != model.TxPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, st.rec.State)
	}

	if err := m.store.SetTxState(ctx, id, model.TxCommitting); err != nil {
		return fmt.Errorf("persist transaction state: %w", err)
	}
	st.rec.State = model.TxCommitting

	for _, parent := range st.rec.Deps {
		asset, err := m.store.GetAsset(ctx, parent)
		if err != nil || !asset.Visible {
			st.rec.State = model.TxFailed
			if serr := m.store.SetTxState(ctx, id, model.TxFailed); serr != nil {
				return fmt.Errorf("persist failed state: %w", serr)
			}
			if err != nil && !errors.Is(err, metastore.ErrNotFound) {
				return fmt.Errorf("check parent %s: %w", parent, err)
			}
			return &ParentNotVisibleError{Tx: id, Parent: parent}
		}
	}

	if err := m.store.CommitTx(ctx, id, time.Now().UTC()); err != nil {
		st.rec.State = model.TxFailed
		if serr := m.store.SetTxState(ctx, id, model.TxFailed); serr != nil {
			return fmt.Errorf("persist failed state after commit error: %w (commit: %w)", serr, err)
		}
		return fmt.Errorf("commit transaction: %w", err)
	}

	delete(m.active, id)
	m.logger.InfoContext(ctx, "transaction committed",
		slog.String("tx", string(id)),
		slog.Int("assets", len(st.rec.Assets)),
	)
	return nil
}

// Rollback drives an open transaction to rolled_back, removing its asset rows.
// Failed transactions can be rolled back; terminal ones cannot.
func (m *Manager) Rollback(ctx context.Context, id model.TxID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.active[id]
	if !ok {
		return ErrUnknownTx
	}
	if st.rec.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, id, st.rec.State)
	}

	if err := m.store.SetTxState(ctx, id, model.TxRollingBack); err != nil {
		return fmt.Errorf("persist transaction state: %w", err)
	}
	if err := m.store.RollbackTx(ctx, id); err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}

	delete(m.active, id)
	m.logger.InfoContext(ctx, "transaction rolled back", slog.String("tx", string(id)))
	return nil
}

// Get returns the current record of a transaction, consulting the durable
// mirror for retired ids.
func (m *Manager) Get(ctx context.Context, id model.TxID) (model.TxRecord, error) {
	m.mu.Lock()
	if st, ok := m.active[id]; ok {
		rec := st.rec
		m.mu.Unlock()
		return rec, nil
	}
	m.mu.Unlock()

	rec, err := m.store.GetTx(ctx, id)
	if errors.Is(err, metastore.ErrNotFound) {
		return model.TxRecord{}, ErrUnknownTx
	}
	return rec, err
}
