// Package topics converts between the slash-delimited scene pub/sub topic
// hierarchy and a named Parts record, and formats concrete outbound topics
// from the same token table.
//
// The scene topic shape (one token per forward slash) is:
//
//	realm / s / namespace / sceneId / msgType / clientId / objectId [/ toUid]
//
// Parsing is strict but never panics: topics arrive from the broker and are
// attacker-influenced, so any shape violation is reported as ErrMalformedTopic
// and the event is expected to be dropped by the caller. Formatting is plain
// token substitution, no escaping or normalization is performed.
//
// The package is pure and stateless; it is shared by the message dispatcher,
// the TTL sweeper, the access-control paths and the HTTP gateway so that all
// of them agree on a single topic grammar.
package topics
