package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/store"
	"github.com/scenesync/scenesync/lib/topics"
)

var (
	createsTotal      = metrics.GetOrCreateCounter(`scenesync_events_total{action="create"}`)
	updatesTotal      = metrics.GetOrCreateCounter(`scenesync_events_total{action="update"}`)
	deletesTotal      = metrics.GetOrCreateCounter(`scenesync_events_total{action="delete"}`)
	templatesTotal    = metrics.GetOrCreateCounter(`scenesync_events_total{action="loadTemplate"}`)
	getPersistsTotal  = metrics.GetOrCreateCounter(`scenesync_events_total{action="getPersist"}`)
	droppedTotal      = metrics.GetOrCreateCounter(`scenesync_events_dropped_total`)
	storeErrorsTotal  = metrics.GetOrCreateCounter(`scenesync_store_errors_total`)
	ttlEvictionsTotal = metrics.GetOrCreateCounter(`scenesync_ttl_evictions_total`)
)

// --------------------------------------------------------------------------
// Event dispatch
// --------------------------------------------------------------------------

// HandleMessage is the bus handler for every scene event of the realm.
// Non-object events, malformed topics and malformed envelopes are
// dropped without reply; the event stream carries plenty of traffic
// this service is not the consumer of.
func (s *Service) HandleMessage(topic string, payload []byte) {
	parts, err := topics.Parse(topic)
	if err != nil {
		droppedTotal.Inc()
		s.logger.Debug().Str("topic", topic).Msg("dropping malformed topic")
		return
	}
	if parts.MsgType != topics.MsgTypeObjects {
		return
	}

	var env model.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		droppedTotal.Inc()
		s.logger.Debug().Err(err).Str("topic", topic).Msg("dropping malformed envelope")
		return
	}
	// The object id announced in the topic is authoritative; an
	// envelope that disagrees with it is forged or corrupt.
	if env.ObjectID == "" || env.ObjectID != parts.ObjectID {
		droppedTotal.Inc()
		s.logger.Debug().
			Str("topic", topic).
			Str("object_id", env.ObjectID).
			Msg("dropping envelope with mismatched object id")
		return
	}

	ctx := context.Background()
	now := time.Now().UTC()

	obj := model.SceneObject{
		ObjectID:   env.ObjectID,
		Type:       env.Type,
		Attributes: env.Data,
		Realm:      parts.Realm,
		Namespace:  parts.Namespace,
		SceneID:    parts.SceneID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if ttl := env.TTLDuration(); ttl > 0 && env.Persist {
		t := now.Add(ttl)
		obj.ExpireAt = &t
	}

	switch env.Action {
	case model.ActionCreate:
		createsTotal.Inc()
		if !env.Persist {
			return
		}
		s.applyCreate(ctx, obj)

	case model.ActionUpdate:
		updatesTotal.Inc()
		if !env.Persist {
			return
		}
		s.applyUpdate(ctx, obj, &env)

	case model.ActionDelete:
		deletesTotal.Inc()
		s.applyDelete(ctx, obj.Key())

	case model.ActionLoadTemplate:
		templatesTotal.Inc()
		s.handleLoadTemplate(ctx, parts, &env)

	case model.ActionGetPersist:
		getPersistsTotal.Inc()
		s.handleGetPersist(ctx, topic, parts, &env)

	default:
		// Unknown actions and our own returnPersist replies.
	}
}

// applyCreate stores the object wholesale. Re-delivered creates land on
// Upsert and converge to the same document.
func (s *Service) applyCreate(ctx context.Context, obj model.SceneObject) {
	k := obj.Key()
	unlock := s.locks.Lock(k.String())
	defer unlock()

	if err := s.store.Upsert(ctx, &obj); err != nil {
		storeErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("key", k.String()).Msg("create upsert failed")
		return
	}
	s.cache.ObserveCreate(k)
	// A create without a ttl cancels any expiry a prior create armed.
	s.cache.SetExpiration(obj)
}

// applyUpdate either replaces the document wholesale (overwrite) or
// merges the payload into its attributes, with nulls unsetting paths.
// The tracking gate is checked under the key lock so an update cannot
// slip past a delete racing it for the same key.
func (s *Service) applyUpdate(ctx context.Context, obj model.SceneObject, env *model.Envelope) {
	k := obj.Key()
	unlock := s.locks.Lock(k.String())
	defer unlock()

	if !s.cache.IsPersisted(k) {
		return
	}

	if env.Overwrite {
		if err := s.store.Replace(ctx, &obj); err != nil {
			if store.IsNotFound(err) {
				s.logger.Debug().Str("key", k.String()).Msg("overwrite of missing object, ignoring")
				return
			}
			storeErrorsTotal.Inc()
			s.logger.Error().Err(err).Str("key", k.String()).Msg("update replace failed")
			return
		}
		// The replacement is the whole new truth: an overwrite without
		// a ttl must disarm any expiry the old document carried.
		s.cache.SetExpiration(obj)
		return
	}

	flat := model.Flatten(map[string]any{"attributes": env.Data})
	sets, unsets := model.SplitNulls(flat)
	if err := s.store.Patch(ctx, k, sets, unsets); err != nil {
		if store.IsNotFound(err) {
			s.logger.Debug().Str("key", k.String()).Msg("patch of missing object, ignoring")
			return
		}
		storeErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("key", k.String()).Msg("update patch failed")
		return
	}
	// A partial patch only rearms the expiry when it names one itself.
	if obj.ExpireAt != nil {
		s.cache.SetExpiration(obj)
	}
}

// applyDelete removes the object, its direct children and, for a
// template-instance container, everything nested under its prefix.
func (s *Service) applyDelete(ctx context.Context, k model.Key) {
	unlock := s.locks.Lock(k.String())
	defer unlock()

	if !s.cache.IsPersisted(k) {
		return
	}

	if err := s.store.DeleteObject(ctx, k); err != nil {
		storeErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("key", k.String()).Msg("delete failed")
	}
	if removed, err := s.store.DeleteChildren(ctx, k.Namespace, k.SceneID, k.ObjectID); err != nil {
		storeErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("key", k.String()).Msg("child cascade failed")
	} else {
		s.forgetKeys(removed)
	}
	if model.IsTemplateContainer(k.ObjectID) {
		if removed, err := s.store.DeleteChildrenByPrefix(ctx, k.Namespace, k.SceneID, k.ObjectID+"::"); err != nil {
			storeErrorsTotal.Inc()
			s.logger.Error().Err(err).Str("key", k.String()).Msg("container cascade failed")
		} else {
			s.forgetKeys(removed)
		}
	}
	s.cache.ClearExpiration(k)
	s.cache.ObserveDelete(k)
}

// forgetKeys drops cascade-deleted objects from the tracking caches so
// their entries do not linger until the next resync.
func (s *Service) forgetKeys(keys []model.Key) {
	for _, k := range keys {
		s.cache.ClearExpiration(k)
		s.cache.ObserveDelete(k)
	}
}

// --------------------------------------------------------------------------
// Query and template triggers
// --------------------------------------------------------------------------

// handleGetPersist answers a persisted-state query on the topic it
// arrived on, with scope fields redacted since the requester already
// knows its own scene.
func (s *Service) handleGetPersist(ctx context.Context, topic string, parts topics.Parts, env *model.Envelope) {
	typeFilter, _ := env.Data["type"].(string)
	objs, err := s.store.ListScene(ctx, parts.Namespace, parts.SceneID, typeFilter)
	if err != nil {
		storeErrorsTotal.Inc()
		s.logger.Error().Err(err).
			Str("namespace", parts.Namespace).
			Str("sceneId", parts.SceneID).
			Msg("getPersist query failed")
		return
	}
	for i := range objs {
		objs[i] = objs[i].Redacted()
	}

	resp := model.PersistResponse{
		Action:   model.ActionReturnPersist,
		ObjectID: env.ObjectID,
		Data:     objs,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("getPersist response marshal failed")
		return
	}
	if err := s.bus.Publish(topic, payload); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("getPersist response publish failed")
	}
}

// handleLoadTemplate validates a template trigger and hands it to the
// instantiation engine. Triggers naming an empty source or an already
// instantiated instance id are skipped without error.
func (s *Service) handleLoadTemplate(ctx context.Context, parts topics.Parts, env *model.Envelope) {
	tmplNS, _ := env.Data["templateNamespace"].(string)
	tmplScene, _ := env.Data["templateSceneId"].(string)
	instanceID, _ := env.Data["instanceId"].(string)

	if tmplNS != "" && tmplScene != "" {
		n, err := s.store.CountScene(ctx, tmplNS, tmplScene)
		if err != nil {
			storeErrorsTotal.Inc()
			s.logger.Error().Err(err).Msg("template source count failed")
			return
		}
		if n == 0 {
			return
		}
	}
	if instanceID != "" {
		containerKey := model.Key{
			Namespace: parts.Namespace,
			SceneID:   parts.SceneID,
			ObjectID:  model.TemplateContainerID(tmplNS, tmplScene, instanceID),
		}
		exists, err := s.store.Exists(ctx, containerKey)
		if err != nil {
			storeErrorsTotal.Inc()
			s.logger.Error().Err(err).Msg("template instance check failed")
			return
		}
		if exists {
			return
		}
	}

	req := TemplateRequest{
		InstanceID:      instanceID,
		Realm:           parts.Realm,
		SourceNamespace: tmplNS,
		SourceSceneID:   tmplScene,
		TargetNamespace: parts.Namespace,
		TargetSceneID:   parts.SceneID,
	}
	if persist, ok := env.Data["persist"].(bool); ok {
		req.Options.Persist = persist
	}
	if ttl, ok := env.Data["ttl"].(float64); ok && ttl > 0 {
		req.Options.TTL = time.Duration(ttl * float64(time.Second))
	}

	if _, err := s.LoadTemplate(ctx, req); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).
			Str("source", tmplNS+"/"+tmplScene).
			Str("target", parts.Namespace+"/"+parts.SceneID).
			Msg("template instantiation failed")
	}
}
