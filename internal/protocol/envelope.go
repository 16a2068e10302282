package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Bus envelope keys. The message bus carries JSON text; binary messages
// travel base64-encoded inside it.
const (
	KeyBinaryMessage = "binaryMessage"
	KeyWorldUpdate   = "worldUpdate"
)

// Envelope is one bus delivery. Exactly one of Binary and WorldUpdate is set.
type Envelope struct {
	Binary      *BinaryMessage `json:"binaryMessage,omitempty"`
	WorldUpdate *WorldUpdate   `json:"worldUpdate,omitempty"`
}

type BinaryMessage struct {
	Content []byte `json:"content"`
}

type WorldUpdate struct {
	Objects WorldObjects `json:"objects"`
}

// WorldObject is one named 28-byte record of a world update.
type WorldObject struct {
	Name   string
	Record []byte
}

// WorldObjects keeps the document order of the "objects" map so updates
// are queued in the order the sender wrote them.
type WorldObjects []WorldObject

func (o WorldObjects) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, obj := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(obj.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(base64.StdEncoding.EncodeToString(obj.Record))
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *WorldObjects) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*o = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("objects: expected object: %w", ErrBadEnvelope)
	}
	out := (*o)[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var enc string
		if err := dec.Decode(&enc); err != nil {
			return fmt.Errorf("objects[%q]: %w", name, err)
		}
		rec, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("objects[%q]: %v: %w", name, err, ErrBadEnvelope)
		}
		out = append(out, WorldObject{Name: name, Record: rec})
	}
	*o = out
	return nil
}

// DecodeEnvelope parses one bus text frame.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("%v: %w", err, ErrBadEnvelope)
	}
	if (env.Binary == nil) == (env.WorldUpdate == nil) {
		return Envelope{}, fmt.Errorf("need exactly one of %s or %s: %w", KeyBinaryMessage, KeyWorldUpdate, ErrBadEnvelope)
	}
	return env, nil
}

// WrapBinary builds the text frame for one binary message.
func WrapBinary(msg []byte) ([]byte, error) {
	return json.Marshal(Envelope{Binary: &BinaryMessage{Content: msg}})
}

func WrapWorldUpdate(objects WorldObjects) ([]byte, error) {
	return json.Marshal(Envelope{WorldUpdate: &WorldUpdate{Objects: objects}})
}
