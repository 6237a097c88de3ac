package model

import (
	"strings"
	"time"
)

// AttrParent is the attribute holding the soft reference to another object's
// id within the same scene.
const AttrParent = "parent"

// --------------------------------------------------------------------------
// Composite key
// --------------------------------------------------------------------------

// Key is the unique identity of a persisted scene object.
type Key struct {
	Namespace string
	SceneID   string
	ObjectID  string
}

// String renders the key in its canonical "namespace|sceneId|objectId" form,
// the representation used by the persistence cache and the per-key locks.
func (k Key) String() string {
	return k.Namespace + "|" + k.SceneID + "|" + k.ObjectID
}

// InScene reports whether the key belongs to the given scene.
func (k Key) InScene(namespace, sceneID string) bool {
	return k.Namespace == namespace && k.SceneID == sceneID
}

// --------------------------------------------------------------------------
// Scene object
// --------------------------------------------------------------------------

// SceneObject is the persisted unit. Attributes is an open bag; the store
// treats it as schema-on-read and only the "parent" attribute carries
// structural meaning.
type SceneObject struct {
	ObjectID   string         `json:"object_id" bson:"object_id"`
	Type       string         `json:"type" bson:"type"`
	Attributes map[string]any `json:"attributes" bson:"attributes"`
	ExpireAt   *time.Time     `json:"expireAt,omitempty" bson:"expireAt,omitempty"`
	Realm      string         `json:"realm,omitempty" bson:"realm"`
	Namespace  string         `json:"namespace,omitempty" bson:"namespace"`
	SceneID    string         `json:"sceneId,omitempty" bson:"sceneId"`
	CreatedAt  time.Time      `json:"createdAt,omitempty" bson:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt,omitempty" bson:"updatedAt"`
}

// Key returns the object's composite identity.
func (o *SceneObject) Key() Key {
	return Key{Namespace: o.Namespace, SceneID: o.SceneID, ObjectID: o.ObjectID}
}

// Expired reports whether the object carries an expiration in the past.
// Objects without an expireAt persist until explicitly deleted.
func (o *SceneObject) Expired(now time.Time) bool {
	return o.ExpireAt != nil && o.ExpireAt.Before(now)
}

// Parent returns the object's parent id, or "" if it has none.
func (o *SceneObject) Parent() string {
	return Parent(o.Attributes)
}

// Redacted returns a copy stripped of the fields that are implied by the
// request scope (realm, namespace, sceneId). Query responses on both the
// event bus and the HTTP gateway use this projection.
func (o SceneObject) Redacted() SceneObject {
	o.Realm = ""
	o.Namespace = ""
	o.SceneID = ""
	return o
}

// Clone returns a deep copy, detaching the attribute bag from the caller.
func (o SceneObject) Clone() SceneObject {
	o.Attributes = CloneAttributes(o.Attributes)
	if o.ExpireAt != nil {
		t := *o.ExpireAt
		o.ExpireAt = &t
	}
	return o
}

// IsTemplateContainer reports whether the object id names a single-level
// template-instance container, i.e. contains exactly one "::" separator.
// Deleting such an object cascades to everything nested under its prefix.
func IsTemplateContainer(objectID string) bool {
	return strings.Count(objectID, "::") == 1
}

// TemplateContainerID builds the deterministic container id for an
// instantiation of (templateNamespace, templateSceneID) as instanceID.
func TemplateContainerID(templateNamespace, templateSceneID, instanceID string) string {
	return templateNamespace + "|" + templateSceneID + "::" + instanceID
}

// --------------------------------------------------------------------------
// Attribute helpers
// --------------------------------------------------------------------------

// Parent extracts the soft parent reference from an attribute bag, or ""
// when absent or not a string.
func Parent(attrs map[string]any) string {
	if attrs == nil {
		return ""
	}
	p, _ := attrs[AttrParent].(string)
	return p
}

// CloneAttributes deep-copies an attribute bag. Nested maps are copied
// recursively, slices are copied shallowly per element.
func CloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = CloneAttributes(vv)
		case []any:
			s := make([]any, len(vv))
			copy(s, vv)
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
