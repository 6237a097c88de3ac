package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scenesync/scenesync/lib/model"
	"github.com/scenesync/scenesync/lib/topics"
)

// --------------------------------------------------------------------------
// Template instantiation
// --------------------------------------------------------------------------

// TemplateOptions tunes a template instantiation.
type TemplateOptions struct {
	// NoPrefix suppresses the instance prefix on cloned object ids.
	NoPrefix bool
	// NoParent suppresses the container object; clones without a
	// parent of their own stay parentless.
	NoParent bool
	// TTL is the container's time to live. Zero means no expiry.
	TTL time.Duration
	// Persist marks the container and every clone as persisted.
	Persist bool
	// Attributes overrides the container's default attribute bag.
	Attributes map[string]any
}

// TemplateRequest names a source scene to instantiate into a target.
type TemplateRequest struct {
	InstanceID      string
	Realm           string
	SourceNamespace string
	SourceSceneID   string
	TargetNamespace string
	TargetSceneID   string
	Options         TemplateOptions
}

// defaultContainerAttributes is the container's attribute bag when the
// request does not supply one.
func defaultContainerAttributes() map[string]any {
	return map[string]any{
		"position":    map[string]any{"x": 0.0, "y": 0.0, "z": 0.0},
		"rotation":    map[string]any{"x": 0.0, "y": 0.0, "z": 0.0},
		"object_type": "templateContainer",
	}
}

// LoadTemplate instantiates every object of the source scene into the
// target scene and returns the number of objects cloned, container
// excluded. Unless NoParent is set, a container object named after the
// source and instance id is created first and parentless clones are
// reparented under it. Unless NoPrefix is set, every clone's id is
// prefixed with "<container>::" so a later delete of the container can
// cascade to the whole instance.
func (s *Service) LoadTemplate(ctx context.Context, req TemplateRequest) (int, error) {
	sources, err := s.store.ListScene(ctx, req.SourceNamespace, req.SourceSceneID, "")
	if err != nil {
		return 0, fmt.Errorf("list template source: %w", err)
	}

	containerID := model.TemplateContainerID(req.SourceNamespace, req.SourceSceneID, req.InstanceID)
	if !req.Options.NoParent {
		attrs := req.Options.Attributes
		if attrs == nil {
			attrs = defaultContainerAttributes()
		}
		err := s.createObject(ctx, containerID, "object", req.Realm,
			req.TargetNamespace, req.TargetSceneID, attrs,
			req.Options.Persist, req.Options.TTL)
		if err != nil {
			return 0, fmt.Errorf("create template container: %w", err)
		}
	}

	prefix := ""
	if !req.Options.NoPrefix {
		prefix = containerID + "::"
	}

	cloned := 0
	for _, src := range sources {
		attrs := model.CloneAttributes(src.Attributes)
		if attrs == nil {
			attrs = map[string]any{}
		}
		if parent := model.Parent(attrs); parent != "" {
			attrs[model.AttrParent] = prefix + parent
		} else if !req.Options.NoParent {
			attrs[model.AttrParent] = containerID
		}

		var ttl time.Duration
		if sec, ok := attrs["ttl"].(float64); ok && sec > 0 {
			ttl = time.Duration(sec * float64(time.Second))
		}

		err := s.createObject(ctx, prefix+src.ObjectID, src.Type, req.Realm,
			req.TargetNamespace, req.TargetSceneID, attrs,
			req.Options.Persist, ttl)
		if err != nil {
			return cloned, fmt.Errorf("clone %s: %w", src.ObjectID, err)
		}
		cloned++
	}
	return cloned, nil
}

// createObject runs an object through the regular create path and then
// announces it on the bus so live scene consumers render it. The store
// write happens before the publish; the announcement looping back
// through the subscription lands on an idempotent upsert.
func (s *Service) createObject(ctx context.Context, objectID, objType, realm, namespace, sceneID string, attrs map[string]any, persist bool, ttl time.Duration) error {
	env := model.Envelope{
		ObjectID: objectID,
		Action:   model.ActionCreate,
		Type:     objType,
		Data:     attrs,
		Persist:  persist || ttl > 0,
	}
	if ttl > 0 {
		env.TTL = ttl.Seconds()
	}

	if env.Persist {
		now := time.Now().UTC()
		obj := model.SceneObject{
			ObjectID:   objectID,
			Type:       objType,
			Attributes: attrs,
			Realm:      realm,
			Namespace:  namespace,
			SceneID:    sceneID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if ttl > 0 {
			t := now.Add(ttl)
			obj.ExpireAt = &t
		}

		k := obj.Key()
		unlock := s.locks.Lock(k.String())
		if err := s.store.Upsert(ctx, &obj); err != nil {
			unlock()
			return err
		}
		s.cache.ObserveCreate(k)
		s.cache.SetExpiration(obj)
		unlock()
	}

	payload, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	topic := topics.SceneObjects(realm, namespace, sceneID, s.clientID, objectID)
	if err := s.bus.Publish(topic, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Msg("create announcement publish failed")
	}
	return nil
}
