// Package store provides the interface to the durable scene object store,
// a key/filter CRUD service keyed by the composite (namespace, sceneId,
// objectId) identity, with unified typed errors.
//
// The package focuses on:
//   - A single interface (Store) covering the upsert/replace/patch write
//     paths, expiry-aware reads, the cascade-delete filters and the identity
//     projection the persistence cache resyncs from
//   - Pluggable backends so the synchronization core can be exercised
//     without a live database
//
// Implementations:
//
//   - MongoDB store (mongostore): the production backend. Documents carry
//     the authoritative persisted shape; the scene indexes plus a sparse
//     index on attributes.parent and a TTL index on expireAt are ensured at
//     connect time.
//     Available in "github.com/scenesync/scenesync/lib/store/mongostore".
//
//   - Memory store (memstore): a process-local backend over a concurrent
//     map, filtering expiry at read time. Used by the test suites and for
//     local development without a database.
//     Available in "github.com/scenesync/scenesync/lib/store/memstore".
//
// The storetest package holds a conformance suite any implementation must
// pass.
package store
