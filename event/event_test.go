package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifs-project/aifs/model"
)

func recv(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return model.Event{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe(context.Background())
	b.Publish(model.Event{Type: model.EventSnapshotCreated, Namespace: "prod"})

	ev := recv(t, ch)
	assert.Equal(t, model.EventSnapshotCreated, ev.Type)
	assert.Equal(t, "prod", ev.Namespace)
}

func TestNamespaceFilter(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe(context.Background(), WithNamespace("prod"))
	b.Publish(model.Event{Type: model.EventTagCreated, Namespace: "dev"})
	b.Publish(model.Event{Type: model.EventTagCreated, Namespace: "prod"})

	ev := recv(t, ch)
	assert.Equal(t, "prod", ev.Namespace)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestTypeFilter(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ch := b.Subscribe(context.Background(), WithTypes(model.EventBranchUpdated))
	b.Publish(model.Event{Type: model.EventAssetCommitted, Namespace: "prod"})
	b.Publish(model.Event{Type: model.EventBranchUpdated, Namespace: "prod", Name: "main"})

	ev := recv(t, ch)
	assert.Equal(t, model.EventBranchUpdated, ev.Type)
	assert.Equal(t, "main", ev.Name)
}

func TestContextCancelClosesChannel(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(context.Background())
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing and re-closing after Close are harmless.
	b.Publish(model.Event{Type: model.EventTagCreated})
	b.Close()
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	_ = b.Subscribe(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBuffer*2; i++ {
			b.Publish(model.Event{Type: model.EventAssetCommitted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
