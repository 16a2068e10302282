package skeleton

import (
	"fmt"

	"hmibridge/internal/protocol"
)

// DefaultMaxFrameBytes matches the renderer's receive buffer.
const DefaultMaxFrameBytes = 32 * 1024

// StateWriter packs AGENT_STATE frames into one reused scratch buffer.
// The returned slice is only valid until the next Serialize call.
type StateWriter struct {
	max     int
	scratch []byte
}

func NewStateWriter(maxFrameBytes int) *StateWriter {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &StateWriter{max: maxFrameBytes}
}

func (w *StateWriter) MaxFrameBytes() int { return w.max }

// Serialize writes the current bone transforms (flat spec order) and face
// weights (table order). Nothing is mutated.
func (w *StateWriter) Serialize(agentID string, sk *Skeleton, faces *FaceTargets) ([]byte, error) {
	var bones []*Bone
	if sk != nil {
		bones = sk.bones
	}
	size := protocol.StateSize(agentID, len(bones), faces.Len())
	if size > w.max {
		return nil, fmt.Errorf("agent %q: %d bones, %d face targets need %d bytes, limit %d: %w",
			agentID, len(bones), faces.Len(), size, w.max, protocol.ErrCapacityExceeded)
	}
	if cap(w.scratch) < size {
		w.scratch = make([]byte, 0, size)
	}
	pw := protocol.NewWriter(w.scratch, size)
	protocol.WriteStateHeader(pw, agentID, len(bones))
	for _, b := range bones {
		pw.Transform(b.local)
	}
	pw.Int32(int32(faces.Len()))
	for _, v := range faces.Weights() {
		pw.Float32(v)
	}
	if err := pw.Err(); err != nil {
		return nil, err
	}
	return pw.Bytes(), nil
}
