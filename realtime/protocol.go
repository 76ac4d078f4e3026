package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Envelope types. A close envelope is always followed by a websocket close
// control frame.
const (
	TypeAccept = "websocket.accept"
	TypeSend   = "websocket.send"
	TypeClose  = "websocket.close"
)

// Inbound actions.
const (
	ActionSubscribe = "subscribe"
	ActionUpdate    = "update"
	ActionCreate    = "create"
	ActionDelete    = "delete"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownAction    = errors.New("unknown action")
	ErrReadOnlyTopic    = errors.New("topic does not accept actions")
	ErrBadGroup         = errors.New("invalid group")
	ErrForbiddenGroup   = errors.New("group not allowed for caller")
)

// Envelope is every outbound text frame. Text carries the JSON encoded payload.
type Envelope struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Message is an inbound frame. Which fields matter depends on the action and
// the topic; Raw keeps the whole frame for actions with their own shape.
type Message struct {
	Token         string          `json:"token"`
	Action        string          `json:"action"`
	Group         json.RawMessage `json:"group"`
	UpdatedField  json.RawMessage `json:"updated_field"`
	UpdatedColumn string          `json:"updated_column"`
	UpdatedValue  json.RawMessage `json:"updated_value"`
	TournamentID  json.RawMessage `json:"tournament_id"`
	MatchID       json.RawMessage `json:"match_id"`

	Raw json.RawMessage `json:"-"`
}

type acceptPayload struct {
	ConnID string `json:"conn_id"`
	Topic  string `json:"topic"`
}

type closePayload struct {
	Reason string `json:"reason,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Encode wraps payload into an envelope of the given type.
func Encode(typ string, payload any) ([]byte, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Text: string(text)})
}

func mustEncode(typ string, payload any) []byte {
	frame, err := Encode(typ, payload)
	if err != nil {
		panic(err)
	}
	return frame
}

// emptyReply answers a malformed message after the handshake.
var emptyReply = mustEncode(TypeSend, struct{}{})

// decodeHandshake parses the first message of a connection. The token and
// action keys must be present.
func decodeHandshake(data []byte) (*Message, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	for _, key := range []string{"token", "action"} {
		if _, ok := keys[key]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrMalformedMessage, key)
		}
	}
	msg, err := decodeMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Action != ActionSubscribe {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
	return msg, nil
}

func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	msg.Raw = append(json.RawMessage(nil), data...)
	return &msg, nil
}

// groupParam renders the group of a subscribe message, a string or a
// number, as a string. Missing and null give "".
func groupParam(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: %s", ErrBadGroup, raw)
}

// parseID reads a positive id given as a number or a numeric string.
func parseID(raw json.RawMessage, field string) (int, error) {
	s, err := groupParam(raw)
	if err != nil || s == "" {
		return 0, fmt.Errorf("%w: %s is required", ErrMalformedMessage, field)
	}
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", ErrMalformedMessage, field)
	}
	return id, nil
}
