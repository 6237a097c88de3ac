// Package model defines the persisted scene object, its composite identity,
// the pub/sub action envelope and the merge-patch helpers shared by the
// dispatcher, the store implementations and the HTTP gateway.
//
// A SceneObject is uniquely identified by the composite Key
// (namespace, sceneId, objectId). Objects form a tree inside a scene through
// the soft "parent" attribute: the store does not enforce the reference, the
// dispatcher cascades deletes along it instead. Template instances are a
// naming convention on top of the same type: a container object whose id is
// "srcNamespace|srcSceneId::instanceId" plus clones prefixed with the
// container id and "::".
package model
