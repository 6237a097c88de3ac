// Package service implements the synchronization bridge between the
// scene-object event stream and the durable document store.
//
// The service subscribes to every scene event of one realm and reacts
// to the object action envelopes it carries:
//
//   - create events marked persist are upserted into the store
//   - update events merge into or replace the stored document, but
//     only for objects the service already tracks as persisted
//   - delete events remove the document together with its children
//     and, for template-instance containers, the whole instance
//   - loadTemplate events clone a source scene into the event's scene
//   - getPersist events are answered with the scene's persisted
//     objects on the requesting topic
//
// An in-memory cache carries the set of persisted keys and the pending
// expirations. It is rebuilt from the store at startup and after every
// broker reconnect, so a store mutated while the service was away does
// not leave the gate out of date. A background sweeper evicts objects
// whose time to live ran out and announces each eviction as a regular
// delete event; the sweeper only runs while the broker connection is
// up.
//
// Mutations are serialized per object key. Two events racing for the
// same object apply one at a time; events for different objects run
// concurrently.
package service
