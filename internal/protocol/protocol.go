package protocol

import (
	"fmt"
	"strings"
)

// Message types. One leading byte selects the payload layout.
const (
	TypeAgentSpec   byte = 0x01
	TypeSpecRequest byte = 0x02
	TypeAgentState  byte = 0x03
)

const (
	// TransformSize is tx,ty,tz,qw,qx,qy,qz as float32.
	TransformSize = 7 * 4

	// Smallest encoded spec bone: three empty strings plus a transform.
	minSpecBoneSize = 3 + TransformSize
)

// Message is one decoded binary message.
type Message interface {
	Type() byte
}

// TypeName is used in logs.
func TypeName(t byte) string {
	switch t {
	case TypeAgentSpec:
		return "AGENT_SPEC"
	case TypeSpecRequest:
		return "SPEC_REQUEST"
	case TypeAgentState:
		return "AGENT_STATE"
	default:
		return fmt.Sprintf("0x%02x", t)
	}
}

// Decode reads the type byte and dispatches on it. The whole buffer is
// one message; trailing bytes are ignored.
func Decode(b []byte) (Message, error) {
	r := NewReader(b)
	t, err := r.Byte("type")
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeAgentSpec:
		m, err := ReadAgentSpec(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	case TypeSpecRequest:
		m, err := ReadSpecRequest(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	case TypeAgentState:
		m, err := ReadAgentState(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &FieldError{Field: "type", Offset: 0, Err: fmt.Errorf("%w: %s", ErrUnknownType, TypeName(t))}
	}
}

// Encode is the inverse of Decode.
func Encode(m Message) ([]byte, error) {
	var w *Writer
	switch v := m.(type) {
	case *SpecRequest:
		if err := checkStrings(v.RequestedID, v.SourceID); err != nil {
			return nil, err
		}
		w = NewWriter(make([]byte, 0, 2+len(v.RequestedID)+len(v.SourceID)+1), 0)
		v.write(w)
	case *AgentSpec:
		if err := v.check(); err != nil {
			return nil, err
		}
		w = NewWriter(nil, 0)
		v.write(w)
	case *AgentState:
		if err := checkStrings(v.AgentID); err != nil {
			return nil, err
		}
		w = NewWriter(make([]byte, 0, StateSize(v.AgentID, len(v.Bones), len(v.FaceWeights))), 0)
		v.write(w)
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownType)
	}
	return w.Bytes(), w.Err()
}

// StateSize is the exact encoded length of an AgentState.
func StateSize(agentID string, bones, faceTargets int) int {
	return 1 + len(agentID) + 1 + 4 + bones*TransformSize + 4 + faceTargets*4
}

func checkStrings(ss ...string) error {
	for _, s := range ss {
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("%q: %w", s, ErrInvalidString)
		}
	}
	return nil
}
