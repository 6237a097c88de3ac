package topics

import (
	"errors"
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Token table
// --------------------------------------------------------------------------

// Token positions within a scene topic, by forward slash.
const (
	TokenRealm = iota
	TokenType
	TokenNamespace
	TokenSceneID
	TokenMsgType
	TokenClientID
	TokenObjectID
	TokenToUID
)

// sceneType is the fixed second token of every scene topic.
const sceneType = "s"

// Scene message type tokens.
const (
	MsgTypePresence = "x"
	MsgTypeChat     = "c"
	MsgTypeUser     = "u"
	MsgTypeObjects  = "o"
	MsgTypeRender   = "r"
	MsgTypeEnv      = "e"
	MsgTypeProgram  = "p"
	MsgTypeDebug    = "d"
)

// Wildcard is the single-level broker wildcard, used when formatting grant
// check topics and subscription filters.
const Wildcard = "+"

// ErrMalformedTopic is returned by Parse for any topic that does not follow
// the scene topic shape. Callers are expected to drop such events silently.
var ErrMalformedTopic = errors.New("malformed scene topic")

// --------------------------------------------------------------------------
// Parsing
// --------------------------------------------------------------------------

// Parts is the decoded form of a scene topic.
type Parts struct {
	Realm     string
	Namespace string
	SceneID   string
	MsgType   string
	ClientID  string
	ObjectID  string
	ToUID     string // empty unless the topic carries the optional addressee token
}

// Parse decodes a scene topic into its named tokens.
//
// It fails with ErrMalformedTopic (wrapped with the offending topic) if the
// topic has fewer than seven or more than eight tokens, if the type token is
// not "s", or if any mandatory token is empty. It never panics.
func Parse(topic string) (Parts, error) {
	tokens := strings.Split(topic, "/")
	if len(tokens) < TokenToUID || len(tokens) > TokenToUID+1 {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	if tokens[TokenType] != sceneType {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}

	p := Parts{
		Realm:     tokens[TokenRealm],
		Namespace: tokens[TokenNamespace],
		SceneID:   tokens[TokenSceneID],
		MsgType:   tokens[TokenMsgType],
		ClientID:  tokens[TokenClientID],
		ObjectID:  tokens[TokenObjectID],
	}
	if len(tokens) > TokenToUID {
		p.ToUID = tokens[TokenToUID]
	}

	if p.Realm == "" || p.Namespace == "" || p.SceneID == "" || p.MsgType == "" || p.ObjectID == "" {
		return Parts{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return p, nil
}

// --------------------------------------------------------------------------
// Formatting
// --------------------------------------------------------------------------

// SceneObjects formats the concrete topic for an object event.
func SceneObjects(realm, namespace, sceneID, clientID, objectID string) string {
	return strings.Join([]string{realm, sceneType, namespace, sceneID, MsgTypeObjects, clientID, objectID}, "/")
}

// ObjectPattern formats the object topic for a scene with the client and
// object tokens wildcarded. This is the topic the access-control paths test
// against a credential's grant patterns.
func ObjectPattern(realm, namespace, sceneID string) string {
	return SceneObjects(realm, namespace, sceneID, Wildcard, Wildcard)
}

// Subscription returns the broker filter covering every scene event of the
// realm: realm/s/+/+/+/+/+.
func Subscription(realm string) string {
	return strings.Join([]string{realm, sceneType, Wildcard, Wildcard, Wildcard, Wildcard, Wildcard}, "/")
}
