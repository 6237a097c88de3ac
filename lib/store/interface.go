package store

import (
	"context"
	"fmt"

	"github.com/scenesync/scenesync/lib/model"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Store is the generic interface to the durable scene object store. The
// storage engine behind it is an external collaborator; implementations
// expose it as a key/filter CRUD service and nothing more.
//
// Read operations that filter by expiry treat an absent expireAt as
// "persists until explicitly deleted". All operations take a context since
// every store call is an async boundary for the dispatcher.
type Store interface {
	// Upsert inserts or fully replaces the object under its composite key.
	// Repeated upserts are idempotent; createdAt is preserved on overwrite.
	Upsert(ctx context.Context, obj *model.SceneObject) error
	// Replace overwrites an existing object wholesale. Unlike Upsert it
	// fails when the key does not exist.
	Replace(ctx context.Context, obj *model.SceneObject) error
	// Patch applies a partial update of dotted-path set and unset
	// operations (paths relative to the document root, e.g.
	// "attributes.position.x"). Fails when the key does not exist.
	Patch(ctx context.Context, key model.Key, sets map[string]any, unsets []string) error
	// Get returns the non-expired object under key, or found=false.
	Get(ctx context.Context, key model.Key) (obj *model.SceneObject, found bool, err error)
	// Exists reports raw key existence, expired documents included. The
	// template engine's idempotency pre-check relies on this.
	Exists(ctx context.Context, key model.Key) (bool, error)
	// ListScene returns the non-expired objects of a scene, optionally
	// filtered by type, sorted by their parent attribute.
	ListScene(ctx context.Context, namespace, sceneID, typeFilter string) ([]model.SceneObject, error)
	// CountScene counts all documents of a scene, expired included.
	CountScene(ctx context.Context, namespace, sceneID string) (int64, error)
	// DeleteObject removes a single object. Missing keys are not an error.
	DeleteObject(ctx context.Context, key model.Key) error
	// DeleteChildren removes every object of the scene whose parent
	// attribute equals parentID, returning the keys it removed so the
	// caller can retire their cache entries.
	DeleteChildren(ctx context.Context, namespace, sceneID, parentID string) ([]model.Key, error)
	// DeleteChildrenByPrefix removes every object of the scene whose parent
	// attribute starts with parentPrefix, returning the removed keys. Used
	// for template-instance cascades, where nested clones reference
	// "<container>::..." parents.
	DeleteChildrenByPrefix(ctx context.Context, namespace, sceneID, parentPrefix string) ([]model.Key, error)
	// DeleteScene removes every object of a scene.
	DeleteScene(ctx context.Context, namespace, sceneID string) (int64, error)
	// Keys returns the identity projection of every stored document. The
	// persistence cache rebuilds its key set from this, at startup and on
	// every broker reconnect.
	Keys(ctx context.Context) ([]model.Key, error)
	// Scenes returns the sorted "namespace/sceneId" pairs that currently
	// hold objects, restricted to one namespace when it is non-empty.
	Scenes(ctx context.Context, namespace string) ([]string, error)
	// Ping verifies store connectivity, for health reporting.
	Ping(ctx context.Context) error
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// RetCode classifies store errors so callers can distinguish a miss from a
// backend failure without string matching.
type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: operation succeeded
	RetCInternalError                   // 1: backend/network failure
	RetCNotFound                        // 2: target document does not exist
	RetCInvalidOperation                // 3: operation arguments invalid
)

// Error wraps a return code and message for failed store operations.
type Error struct {
	Code RetCode
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	code := "Unknown"
	switch e.Code {
	case RetCInternalError:
		code = "InternalError"
	case RetCNotFound:
		code = "NotFound"
	case RetCInvalidOperation:
		code = "InvalidOperation"
	}
	return fmt.Sprintf("SceneStoreError (code %s): %s", code, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// IsNotFound reports whether err is a store Error carrying RetCNotFound.
func IsNotFound(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Code == RetCNotFound
}
