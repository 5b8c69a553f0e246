package aifs

import (
	"context"
	"fmt"
	"time"

	"github.com/aifs-project/aifs/model"
)

// CreateBranch points a branch at a snapshot, creating it when absent.
// The snapshot must exist in the namespace and carry a valid signature.
// Pointer update and history append happen atomically; the returned
// event records the old and new targets.
func (e *Engine) CreateBranch(ctx context.Context, namespace, name string, sid model.SnapshotID, metadata map[string]string) (model.BranchEvent, error) {
	if err := e.checkOpen(); err != nil {
		return model.BranchEvent{}, err
	}
	if err := validateName("namespace", namespace); err != nil {
		return model.BranchEvent{}, err
	}
	if err := validateName("branch name", name); err != nil {
		return model.BranchEvent{}, err
	}

	if err := e.checkSnapshotTarget(ctx, namespace, sid); err != nil {
		return model.BranchEvent{}, err
	}

	ev, err := e.meta.CreateOrUpdateBranch(ctx, namespace, name, sid, metadata)
	if err != nil {
		return model.BranchEvent{}, translateError(err)
	}

	e.events.Publish(model.Event{
		Type:      model.EventBranchUpdated,
		Namespace: namespace,
		Snapshot:  sid,
		Name:      name,
		At:        time.Now().UTC(),
	})
	return ev, nil
}

// GetBranch returns the current branch pointer.
func (e *Engine) GetBranch(ctx context.Context, namespace, name string) (model.Branch, error) {
	if err := e.checkOpen(); err != nil {
		return model.Branch{}, err
	}
	branch, err := e.meta.GetBranch(ctx, namespace, name)
	return branch, translateError(err)
}

// ListBranches returns all branches of a namespace.
func (e *Engine) ListBranches(ctx context.Context, namespace string) ([]model.Branch, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	branches, err := e.meta.ListBranches(ctx, namespace)
	return branches, translateError(err)
}

// DeleteBranch removes the branch pointer. Its history is kept for
// audit.
func (e *Engine) DeleteBranch(ctx context.Context, namespace, name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return translateError(e.meta.DeleteBranch(ctx, namespace, name))
}

// BranchHistory returns every pointer move of a branch, oldest first.
// Works for deleted branches too.
func (e *Engine) BranchHistory(ctx context.Context, namespace, name string) ([]model.BranchEvent, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	events, err := e.meta.BranchHistory(ctx, namespace, name)
	return events, translateError(err)
}

// CreateTag pins an immutable name to a snapshot. Creating an existing
// tag fails with ErrAlreadyExists.
func (e *Engine) CreateTag(ctx context.Context, namespace, name string, sid model.SnapshotID) (model.Tag, error) {
	if err := e.checkOpen(); err != nil {
		return model.Tag{}, err
	}
	if err := validateName("namespace", namespace); err != nil {
		return model.Tag{}, err
	}
	if err := validateName("tag name", name); err != nil {
		return model.Tag{}, err
	}

	if err := e.checkSnapshotTarget(ctx, namespace, sid); err != nil {
		return model.Tag{}, err
	}

	tag := model.Tag{
		Namespace: namespace,
		Name:      name,
		Snapshot:  sid,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.meta.CreateTag(ctx, tag); err != nil {
		return model.Tag{}, translateError(err)
	}

	e.events.Publish(model.Event{
		Type:      model.EventTagCreated,
		Namespace: namespace,
		Snapshot:  sid,
		Name:      name,
		At:        tag.CreatedAt,
	})
	return tag, nil
}

// GetTag returns a tag.
func (e *Engine) GetTag(ctx context.Context, namespace, name string) (model.Tag, error) {
	if err := e.checkOpen(); err != nil {
		return model.Tag{}, err
	}
	tag, err := e.meta.GetTag(ctx, namespace, name)
	return tag, translateError(err)
}

// ListTags returns all tags of a namespace.
func (e *Engine) ListTags(ctx context.Context, namespace string) ([]model.Tag, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	tags, err := e.meta.ListTags(ctx, namespace)
	return tags, translateError(err)
}

// checkSnapshotTarget ensures sid exists in namespace and verifies.
// Branch and tag targets must be intact before a name can point at
// them.
func (e *Engine) checkSnapshotTarget(ctx context.Context, namespace string, sid model.SnapshotID) error {
	snap, err := e.meta.GetSnapshot(ctx, sid)
	if err != nil {
		return translateError(err)
	}
	if snap.Namespace != namespace {
		return fmt.Errorf("%w: snapshot %s belongs to namespace %q", ErrNotFound, sid, snap.Namespace)
	}
	return e.verifySnapshot(ctx, snap, VerifyOptions{})
}
