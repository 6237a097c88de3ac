// Package cache maintains the in-memory consistency state the
// synchronization core runs on: the persisted key set and the expiration
// index.
//
// The persisted key set is a conservative mirror of "which composite keys
// exist in the store". It is rebuilt wholesale from the store's identity
// projection at process start and after every broker reconnect, and updated
// incrementally only after a store write has been confirmed. It gates
// update/delete events: keys absent from the set are ignored, so the store
// is never mutated for objects whose creation was never durably observed
// (transient objects share the same event stream). False negatives are safe,
// false positives are not: on resync failure the old set is kept and the
// error is surfaced so callers can defer anything that depends on a fresh
// set.
//
// The expiration index maps composite keys to the object snapshot carrying a
// pending expireAt. It is a live cache only, never persisted: expireAt is
// also stored on the document and can be recovered by scanning the store.
//
// The cache is an injectable component with no global state; the dispatcher
// and the sweeper share one instance and rely on its thread safety.
package cache
