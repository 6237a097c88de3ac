package topics

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	p, err := Parse("realm/s/ns/scene/o/client/obj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Realm != "realm" || p.Namespace != "ns" || p.SceneID != "scene" {
		t.Errorf("wrong scene tokens: %+v", p)
	}
	if p.MsgType != MsgTypeObjects || p.ClientID != "client" || p.ObjectID != "obj" {
		t.Errorf("wrong message tokens: %+v", p)
	}
	if p.ToUID != "" {
		t.Errorf("expected empty toUid, got %q", p.ToUID)
	}
}

func TestParseWithToUID(t *testing.T) {
	p, err := Parse("realm/s/ns/scene/o/client/obj/user_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ToUID != "user_1" {
		t.Errorf("expected toUid user_1, got %q", p.ToUID)
	}
}

func TestParseMalformed(t *testing.T) {
	malformed := []string{
		"",
		"realm",
		"realm/s/ns/scene/o/client",            // too short
		"realm/s/ns/scene/o/client/obj/uid/x",  // too long
		"realm/d/ns/scene/o/client/obj",        // wrong type token
		"realm/s//scene/o/client/obj",          // empty namespace
		"realm/s/ns/scene/o/client/",           // empty object id
		"/s/ns/scene/o/client/obj",             // empty realm
	}
	for _, topic := range malformed {
		if _, err := Parse(topic); !errors.Is(err, ErrMalformedTopic) {
			t.Errorf("Parse(%q): expected ErrMalformedTopic, got %v", topic, err)
		}
	}
}

func TestFormatting(t *testing.T) {
	if got := SceneObjects("realm", "ns", "scene", "client", "obj"); got != "realm/s/ns/scene/o/client/obj" {
		t.Errorf("SceneObjects: got %q", got)
	}
	if got := ObjectPattern("realm", "ns", "scene"); got != "realm/s/ns/scene/o/+/+" {
		t.Errorf("ObjectPattern: got %q", got)
	}
	if got := Subscription("realm"); got != "realm/s/+/+/+/+/+" {
		t.Errorf("Subscription: got %q", got)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	topic := SceneObjects("r", "n", "s1", "c", "o1")
	p, err := Parse(topic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ObjectID != "o1" || p.SceneID != "s1" {
		t.Errorf("round trip mismatch: %+v", p)
	}
}
