package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/lib/model"
)

// seedTemplateScene fills the source scene used by the instantiation
// tests: a parentless anchor and a sign parented under it.
func seedTemplateScene(t *testing.T, svc *Service) {
	t.Helper()
	deliver(t, svc, "tmplNs", "tmplScene", model.Envelope{
		ObjectID: "anchor", Action: model.ActionCreate, Type: "object", Persist: true,
		Data: map[string]any{"color": "green"},
	})
	deliver(t, svc, "tmplNs", "tmplScene", model.Envelope{
		ObjectID: "sign", Action: model.ActionCreate, Type: "object", Persist: true,
		Data: map[string]any{"parent": "anchor"},
	})
}

func TestLoadTemplateClonesSourceScene(t *testing.T) {
	svc, st, b := newTestService(t)
	seedTemplateScene(t, svc)

	n, err := svc.LoadTemplate(context.Background(), TemplateRequest{
		InstanceID:      "east",
		Realm:           "realm",
		SourceNamespace: "tmplNs",
		SourceSceneID:   "tmplScene",
		TargetNamespace: "ns",
		TargetSceneID:   "scene",
		Options:         TemplateOptions{Persist: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	b.Flush()

	container := "tmplNs|tmplScene::east"
	cObj := mustGet(t, st, "ns", "scene", container)
	require.Equal(t, "templateContainer", cObj.Attributes["object_type"])

	anchor := mustGet(t, st, "ns", "scene", container+"::anchor")
	require.Equal(t, container, anchor.Parent())
	require.Equal(t, "green", anchor.Attributes["color"])

	sign := mustGet(t, st, "ns", "scene", container+"::sign")
	require.Equal(t, container+"::anchor", sign.Parent())

	// The source scene is untouched, parents included.
	require.Equal(t, "", mustGet(t, st, "tmplNs", "tmplScene", "anchor").Parent())
	require.Equal(t, "anchor", mustGet(t, st, "tmplNs", "tmplScene", "sign").Parent())
}

func TestLoadTemplateNoPrefixNoParent(t *testing.T) {
	svc, st, b := newTestService(t)
	seedTemplateScene(t, svc)

	n, err := svc.LoadTemplate(context.Background(), TemplateRequest{
		InstanceID:      "clone",
		Realm:           "realm",
		SourceNamespace: "tmplNs",
		SourceSceneID:   "tmplScene",
		TargetNamespace: "ns",
		TargetSceneID:   "scene",
		Options:         TemplateOptions{NoPrefix: true, NoParent: true, Persist: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	b.Flush()

	assertGone(t, st, "ns", "scene", "tmplNs|tmplScene::clone")
	require.Equal(t, "", mustGet(t, st, "ns", "scene", "anchor").Parent())
	require.Equal(t, "anchor", mustGet(t, st, "ns", "scene", "sign").Parent())
}

func TestLoadTemplateTriggerIdempotent(t *testing.T) {
	svc, st, b := newTestService(t)
	seedTemplateScene(t, svc)

	trigger := model.Envelope{
		ObjectID: "trigger-1",
		Action:   model.ActionLoadTemplate,
		Data: map[string]any{
			"templateNamespace": "tmplNs",
			"templateSceneId":   "tmplScene",
			"instanceId":        "west",
			"persist":           true,
		},
	}
	deliver(t, svc, "ns", "scene", trigger)
	b.Flush()

	before, err := st.CountScene(context.Background(), "ns", "scene")
	require.NoError(t, err)
	require.EqualValues(t, 3, before) // container + 2 clones

	// Same instance id again: the container already exists, so the
	// trigger is a no-op.
	deliver(t, svc, "ns", "scene", trigger)
	b.Flush()

	after, err := st.CountScene(context.Background(), "ns", "scene")
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestLoadTemplateEmptySourceSkipped(t *testing.T) {
	svc, st, b := newTestService(t)

	deliver(t, svc, "ns", "scene", model.Envelope{
		ObjectID: "trigger-1",
		Action:   model.ActionLoadTemplate,
		Data: map[string]any{
			"templateNamespace": "emptyNs",
			"templateSceneId":   "emptyScene",
			"instanceId":        "inst",
			"persist":           true,
		},
	})
	b.Flush()

	n, err := st.CountScene(context.Background(), "ns", "scene")
	require.NoError(t, err)
	require.EqualValues(t, 0, n)
}

func TestLoadTemplateContainerTTL(t *testing.T) {
	svc, st, b := newTestService(t)
	seedTemplateScene(t, svc)

	_, err := svc.LoadTemplate(context.Background(), TemplateRequest{
		InstanceID:      "brief",
		Realm:           "realm",
		SourceNamespace: "tmplNs",
		SourceSceneID:   "tmplScene",
		TargetNamespace: "ns",
		TargetSceneID:   "scene",
		Options:         TemplateOptions{TTL: time.Hour},
	})
	require.NoError(t, err)
	b.Flush()

	// A ttl implies persistence even without the persist flag.
	container := mustGet(t, st, "ns", "scene", "tmplNs|tmplScene::brief")
	require.NotNil(t, container.ExpireAt)
	require.True(t, svc.Cache().IsPersisted(container.Key()))

	// The clones carried no ttl and no persist flag, so they were
	// announced but not stored.
	assertGone(t, st, "ns", "scene", "tmplNs|tmplScene::brief::anchor")
}
