package protocol_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"hmibridge/internal/protocol"
)

const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "oneOf": [
    {
      "required": ["binaryMessage"],
      "additionalProperties": false,
      "properties": {
        "binaryMessage": {
          "type": "object",
          "required": ["content"],
          "properties": {"content": {"type": "string", "contentEncoding": "base64"}}
        }
      }
    },
    {
      "required": ["worldUpdate"],
      "additionalProperties": false,
      "properties": {
        "worldUpdate": {
          "type": "object",
          "required": ["objects"],
          "properties": {
            "objects": {"type": "object", "additionalProperties": {"type": "string"}}
          }
        }
      }
    }
  ]
}`

func compileEnvelope(t *testing.T) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.CompileString("envelope.schema.json", envelopeSchema)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return s
}

func validate(t *testing.T, s *jsonschema.Schema, raw []byte) {
	t.Helper()
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(v); err != nil {
		t.Fatalf("validate %s: %v", raw, err)
	}
}

func TestEnvelope_WrapBinaryMatchesSchema(t *testing.T) {
	s := compileEnvelope(t)
	msg, err := protocol.Encode(&protocol.SpecRequest{RequestedID: "agent1", SourceID: "loader"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := protocol.WrapBinary(msg)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	validate(t, s, raw)

	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Binary == nil || !bytes.Equal(env.Binary.Content, msg) {
		t.Fatalf("content mismatch: %#v", env)
	}
}

func TestEnvelope_WorldUpdateKeepsDocumentOrder(t *testing.T) {
	s := compileEnvelope(t)
	rec := protocol.EncodeWorldObjectRecord(protocol.Transform{Translation: [3]float32{1, 2, 3}})
	objs := protocol.WorldObjects{
		{Name: "zeta", Record: rec},
		{Name: "alpha", Record: rec},
		{Name: "mid", Record: rec},
	}
	raw, err := protocol.WrapWorldUpdate(objs)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	validate(t, s, raw)

	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.WorldUpdate == nil || len(env.WorldUpdate.Objects) != 3 {
		t.Fatalf("objects: %#v", env.WorldUpdate)
	}
	for i, want := range []string{"zeta", "alpha", "mid"} {
		got := env.WorldUpdate.Objects[i]
		if got.Name != want || !bytes.Equal(got.Record, rec) {
			t.Fatalf("objects[%d]=%q want %q", i, got.Name, want)
		}
	}
}

func TestEnvelope_HandWrittenWorldUpdate(t *testing.T) {
	// 28 bytes: translation (1,0,0), identity rotation.
	raw := []byte(`{"worldUpdate":{"objects":{"cup":"AACAPwAAAAAAAAAAAACAPwAAAAAAAAAAAAAAAA=="}}}`)
	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	tr, err := protocol.ReadWorldObjectRecord(env.WorldUpdate.Objects[0].Record)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if tr != protocol.IdentityTransform.WithTranslation(1, 0, 0) {
		t.Fatalf("got %#v", tr)
	}
}

func TestEnvelope_Rejects(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"binaryMessage":{"content":"AA=="},"worldUpdate":{"objects":{}}}`,
		`{"worldUpdate":{"objects":[]}}`,
		`{"worldUpdate":{"objects":{"a":"%%%"}}}`,
	}
	for _, c := range cases {
		if _, err := protocol.DecodeEnvelope([]byte(c)); !errors.Is(err, protocol.ErrBadEnvelope) {
			t.Fatalf("%s: err=%v want ErrBadEnvelope", c, err)
		}
	}
}
