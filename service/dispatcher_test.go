package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store"
	"github.com/scenesync/scenesync/lib/store/memstore"
	"github.com/scenesync/scenesync/lib/topics"
	"github.com/scenesync/scenesync/service/bus/membus"
)

// newTestService starts a fully wired service on an in-memory store
// and bus. The service runs until the test ends.
func newTestService(t *testing.T) (*Service, store.Store, *membus.Bus) {
	t.Helper()

	st := memstore.New()
	b := membus.New()
	cfg := Config{
		Realm:          "realm",
		MQTTClientID:   "scenesync_test",
		StoreBackend:   StoreBackendMemory,
		SweepInterval:  10 * time.Millisecond,
		ResyncInterval: time.Hour,
		LogLevel:       "error",
	}

	svc := New(cfg, st, b)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, b.Connected, time.Second, 5*time.Millisecond)
	return svc, st, b
}

// deliver marshals the envelope and hands it to the dispatcher the way
// a broker delivery would.
func deliver(t *testing.T, svc *Service, namespace, sceneID string, env model.Envelope) {
	t.Helper()
	payload, err := json.Marshal(&env)
	require.NoError(t, err)
	topic := topics.SceneObjects("realm", namespace, sceneID, "someclient", env.ObjectID)
	svc.HandleMessage(topic, payload)
}

func mustGet(t *testing.T, st store.Store, namespace, sceneID, objectID string) *model.SceneObject {
	t.Helper()
	obj, found, err := st.Get(context.Background(), model.Key{Namespace: namespace, SceneID: sceneID, ObjectID: objectID})
	require.NoError(t, err)
	require.True(t, found, "expected %s/%s/%s in store", namespace, sceneID, objectID)
	return obj
}

func assertGone(t *testing.T, st store.Store, namespace, sceneID, objectID string) {
	t.Helper()
	_, found, err := st.Get(context.Background(), model.Key{Namespace: namespace, SceneID: sceneID, ObjectID: objectID})
	require.NoError(t, err)
	require.False(t, found, "expected %s/%s/%s to be gone", namespace, sceneID, objectID)
}

// --------------------------------------------------------------------------
// Create
// --------------------------------------------------------------------------

func TestCreatePersistGate(t *testing.T) {
	svc, st, _ := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "ghost",
		Action:   model.ActionCreate,
		Type:     "object",
		Data:     map[string]any{"color": "red"},
	})
	assertGone(t, st, "ns", "scene", "ghost")

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "box",
		Action:   model.ActionCreate,
		Type:     "object",
		Data:     map[string]any{"color": "red"},
		Persist:  true,
	})
	obj := mustGet(t, st, "ns", "scene", "box")
	require.Equal(t, "object", obj.Type)
	require.Equal(t, "red", obj.Attributes["color"])
	require.True(t, svc.Cache().IsPersisted(obj.Key()))
}

func TestCreateIdempotent(t *testing.T) {
	svc, st, _ := newTestService(t)

	env := model.Envelope{
		ObjectID: "box",
		Action:   model.ActionCreate,
		Type:     "object",
		Data:     map[string]any{"color": "blue"},
		Persist:  true,
	}
	deliver(t, svc, "ns", "scene", env)
	deliver(t, svc, "ns", "scene", env)

	n, err := st.CountScene(context.Background(), "ns", "scene")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, "blue", mustGet(t, st, "ns", "scene", "box").Attributes["color"])
}

// --------------------------------------------------------------------------
// Update
// --------------------------------------------------------------------------

func TestUpdateMergeAndNullUnset(t *testing.T) {
	svc, st, _ := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "box",
		Action:   model.ActionCreate,
		Type:     "object",
		Data:     map[string]any{"a": 1.0, "c": 3.0},
		Persist:  true,
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "box",
		Action:   model.ActionUpdate,
		Data:     map[string]any{"b": 5.0, "a": nil},
		Persist:  true,
	})

	attrs := mustGet(t, st, "ns", "scene", "box").Attributes
	require.NotContains(t, attrs, "a")
	require.Equal(t, 5.0, attrs["b"])
	require.Equal(t, 3.0, attrs["c"])
}

func TestUpdateOverwriteReplacesWholesale(t *testing.T) {
	svc, st, _ := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "box",
		Action:   model.ActionCreate,
		Type:     "object",
		Data:     map[string]any{"a": 1.0, "c": 3.0},
		Persist:  true,
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID:  "box",
		Action:    model.ActionUpdate,
		Type:      "object",
		Data:      map[string]any{"b": 5.0},
		Persist:   true,
		Overwrite: true,
	})

	attrs := mustGet(t, st, "ns", "scene", "box").Attributes
	require.NotContains(t, attrs, "a")
	require.NotContains(t, attrs, "c")
	require.Equal(t, 5.0, attrs["b"])
}

func TestUpdateIgnoredForUntrackedObject(t *testing.T) {
	svc, st, _ := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "stranger",
		Action:   model.ActionUpdate,
		Data:     map[string]any{"a": 1.0},
		Persist:  true,
	})
	assertGone(t, st, "ns", "scene", "stranger")
}

// --------------------------------------------------------------------------
// Delete
// --------------------------------------------------------------------------

func TestDeleteCascadesToChildren(t *testing.T) {
	svc, st, _ := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "tower", Action: model.ActionCreate, Type: "object", Persist: true,
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "flag", Action: model.ActionCreate, Type: "object", Persist: true,
		Data: map[string]any{"parent": "tower"},
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "bystander", Action: model.ActionCreate, Type: "object", Persist: true,
	})

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "tower", Action: model.ActionDelete,
	})

	assertGone(t, st, "ns", "scene", "tower")
	assertGone(t, st, "ns", "scene", "flag")
	mustGet(t, st, "ns", "scene", "bystander")
	require.False(t, svc.Cache().IsPersisted(model.Key{Namespace: "ns", SceneID: "scene", ObjectID: "tower"}))
	// Cascaded children leave the tracking cache with their parent,
	// not at the next resync.
	require.False(t, svc.Cache().IsPersisted(model.Key{Namespace: "ns", SceneID: "scene", ObjectID: "flag"}))
}

func TestDeleteCascadeClearsChildExpiry(t *testing.T) {
	svc, _, _ := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "tower", Action: model.ActionCreate, Type: "object", Persist: true,
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "flag", Action: model.ActionCreate, Type: "object", Persist: true,
		TTL:  3600,
		Data: map[string]any{"parent": "tower"},
	})
	require.Equal(t, 1, svc.Cache().ExpirationCount())

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "tower", Action: model.ActionDelete,
	})
	require.Zero(t, svc.Cache().ExpirationCount())
}

func TestDeleteTemplateContainerCascadesByPrefix(t *testing.T) {
	svc, st, _ := newTestService(t)

	container := "tmplNs|tmplScene::inst"
	for _, env := range []model.Envelope{
		{ObjectID: container, Action: model.ActionCreate, Type: "object", Persist: true},
		{ObjectID: container + "::box", Action: model.ActionCreate, Type: "object", Persist: true,
			Data: map[string]any{"parent": container}},
		{ObjectID: container + "::lid", Action: model.ActionCreate, Type: "object", Persist: true,
			Data: map[string]any{"parent": container + "::box"}},
	} {
		deliver(t, svc, "ns", "scene", env)
	}

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: container, Action: model.ActionDelete,
	})

	assertGone(t, st, "ns", "scene", container)
	assertGone(t, st, "ns", "scene", container+"::box")
	assertGone(t, st, "ns", "scene", container+"::lid")
}

// --------------------------------------------------------------------------
// Delivery ordering
// --------------------------------------------------------------------------

// A delete published right after the create of the same object must
// observe the create, every time. This exercises the full bus path
// rather than calling the dispatcher directly.
func TestCreateThenDeleteThroughBus(t *testing.T) {
	_, st, b := newTestService(t)

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("spark-%d", i)
		topic := topics.SceneObjects("realm", "ns", "scene", "someclient", id)

		create, err := json.Marshal(&model.Envelope{
			ObjectID: id, Action: model.ActionCreate, Type: "object", Persist: true,
		})
		require.NoError(t, err)
		del, err := json.Marshal(&model.Envelope{ObjectID: id, Action: model.ActionDelete})
		require.NoError(t, err)

		require.NoError(t, b.Publish(topic, create))
		require.NoError(t, b.Publish(topic, del))
	}
	b.Flush()

	n, err := st.CountScene(context.Background(), "ns", "scene")
	require.NoError(t, err)
	require.Zero(t, n, "every object must end up deleted")
}

// --------------------------------------------------------------------------
// Malformed input
// --------------------------------------------------------------------------

func TestMismatchedObjectIDDropped(t *testing.T) {
	svc, st, _ := newTestService(t)

	payload, err := json.Marshal(&model.Envelope{
		ObjectID: "impostor",
		Action:   model.ActionCreate,
		Type:     "object",
		Persist:  true,
	})
	require.NoError(t, err)
	svc.HandleMessage(topics.SceneObjects("realm", "ns", "scene", "someclient", "box"), payload)

	assertGone(t, st, "ns", "scene", "impostor")
	assertGone(t, st, "ns", "scene", "box")
}

func TestNonObjectEventsIgnored(t *testing.T) {
	svc, st, _ := newTestService(t)

	payload, err := json.Marshal(&model.Envelope{
		ObjectID: "box",
		Action:   model.ActionCreate,
		Type:     "object",
		Persist:  true,
	})
	require.NoError(t, err)

	svc.HandleMessage("realm/s/ns/scene/c/someclient/box", payload)
	svc.HandleMessage("not a topic", payload)
	svc.HandleMessage(topics.SceneObjects("realm", "ns", "scene", "someclient", "box"), []byte("{broken"))

	assertGone(t, st, "ns", "scene", "box")
}

// --------------------------------------------------------------------------
// getPersist
// --------------------------------------------------------------------------

func TestGetPersistRepliesOnRequestTopic(t *testing.T) {
	svc, _, b := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "box", Action: model.ActionCreate, Type: "object", Persist: true,
		Data: map[string]any{"color": "red"},
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "opts", Action: model.ActionCreate, Type: "scene-options", Persist: true,
	})

	var mu sync.Mutex
	var replies []model.PersistResponse
	reqTopic := topics.SceneObjects("realm", "ns", "scene", "viewer", "req-1")
	err := b.Subscribe(reqTopic, func(_ string, payload []byte) {
		var resp model.PersistResponse
		if json.Unmarshal(payload, &resp) == nil && resp.Action == model.ActionReturnPersist {
			mu.Lock()
			replies = append(replies, resp)
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	payload, err := json.Marshal(&model.Envelope{
		ObjectID: "req-1",
		Action:   model.ActionGetPersist,
	})
	require.NoError(t, err)
	svc.HandleMessage(reqTopic, payload)
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replies, 1)
	resp := replies[0]
	require.Equal(t, "req-1", resp.ObjectID)
	require.Len(t, resp.Data, 2)
	for _, obj := range resp.Data {
		require.Empty(t, obj.Realm)
		require.Empty(t, obj.Namespace)
		require.Empty(t, obj.SceneID)
	}
}

func TestGetPersistTypeFilter(t *testing.T) {
	svc, _, b := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "box", Action: model.ActionCreate, Type: "object", Persist: true,
	})
	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "opts", Action: model.ActionCreate, Type: "scene-options", Persist: true,
	})

	var mu sync.Mutex
	var got []model.SceneObject
	reqTopic := topics.SceneObjects("realm", "ns", "scene", "viewer", "req-2")
	err := b.Subscribe(reqTopic, func(_ string, payload []byte) {
		var resp model.PersistResponse
		if json.Unmarshal(payload, &resp) == nil && resp.Action == model.ActionReturnPersist {
			mu.Lock()
			got = append(got, resp.Data...)
			mu.Unlock()
		}
	})
	require.NoError(t, err)

	payload, err := json.Marshal(&model.Envelope{
		ObjectID: "req-2",
		Action:   model.ActionGetPersist,
		Data:     map[string]any{"type": "scene-options"},
	})
	require.NoError(t, err)
	svc.HandleMessage(reqTopic, payload)
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, "opts", got[0].ObjectID)
}
