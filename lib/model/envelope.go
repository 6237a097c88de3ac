package model

import (
	"encoding/json"
	"time"
)

// --------------------------------------------------------------------------
// Action
// --------------------------------------------------------------------------

// Action is the closed set of envelope actions. Unknown wire values decode
// to ActionUnknown rather than failing, so the dispatcher can ignore them
// explicitly: the event stream is shared with consumers this service does
// not know about.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionCreate
	ActionUpdate
	ActionDelete
	ActionLoadTemplate
	ActionGetPersist
	ActionReturnPersist
)

var actionNames = map[Action]string{
	ActionCreate:        "create",
	ActionUpdate:        "update",
	ActionDelete:        "delete",
	ActionLoadTemplate:  "loadTemplate",
	ActionGetPersist:    "getPersist",
	ActionReturnPersist: "returnPersist",
}

// String returns the wire name of the action, or "" for ActionUnknown.
func (a Action) String() string {
	return actionNames[a]
}

// MarshalJSON encodes the action under its wire name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a wire action name. Unrecognized names yield
// ActionUnknown without error; a non-string value is a malformed envelope.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = ActionUnknown
	for action, name := range actionNames {
		if name == s {
			*a = action
			break
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Envelope
// --------------------------------------------------------------------------

// Envelope is the JSON action envelope carried by every scene object event,
// inbound and outbound.
type Envelope struct {
	ObjectID  string         `json:"object_id"`
	Action    Action         `json:"action"`
	Type      string         `json:"type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	TTL       float64        `json:"ttl,omitempty"` // seconds
	Persist   bool           `json:"persist,omitempty"`
	Overwrite bool           `json:"overwrite,omitempty"`
}

// UnmarshalJSON decodes the envelope with persist and overwrite read
// by truthiness. Browser publishers send those flags as booleans,
// numbers or strings, and a loose value must not void the envelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	aux := struct {
		Persist   json.RawMessage `json:"persist"`
		Overwrite json.RawMessage `json:"overwrite"`
		*alias
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Persist = truthy(aux.Persist)
	e.Overwrite = truthy(aux.Overwrite)
	return nil
}

// truthy interprets a raw JSON value the way a JavaScript condition
// would: false, 0, "", null and absence are false, everything else is
// true. Unparseable values count as false.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case nil:
		return false
	default:
		return true
	}
}

// TTLDuration converts the envelope's ttl seconds into a duration,
// zero when no ttl was supplied.
func (e *Envelope) TTLDuration() time.Duration {
	if e.TTL <= 0 {
		return 0
	}
	return time.Duration(e.TTL * float64(time.Second))
}

// PersistResponse is the envelope published in answer to a getPersist
// request, on the requesting topic.
type PersistResponse struct {
	Action   Action        `json:"action"`
	ObjectID string        `json:"object_id"`
	Data     []SceneObject `json:"data"`
}
