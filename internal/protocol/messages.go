package protocol

import "fmt"

// Transform is a local translation plus a rotation quaternion in w,x,y,z order.
type Transform struct {
	Translation [3]float32
	Rotation    [4]float32
}

// IdentityTransform has zero translation and the identity rotation.
var IdentityTransform = Transform{Rotation: [4]float32{1, 0, 0, 0}}

// SPEC_REQUEST (bridge -> renderer): ask the renderer to describe an agent.
type SpecRequest struct {
	RequestedID string
	SourceID    string
}

func (*SpecRequest) Type() byte { return TypeSpecRequest }

func ReadSpecRequest(r *Reader) (*SpecRequest, error) {
	var m SpecRequest
	var err error
	if m.RequestedID, err = r.String("requested_id"); err != nil {
		return nil, err
	}
	if m.SourceID, err = r.String("source_id"); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *SpecRequest) write(w *Writer) {
	w.Byte(TypeSpecRequest)
	w.String(m.RequestedID)
	w.String(m.SourceID)
}

// BoneSpec is one bone record of an AGENT_SPEC. An empty Parent marks the root.
type BoneSpec struct {
	Name   string
	Parent string
	Alias  string
	Transform
}

// AGENT_SPEC (renderer -> bridge): skeleton layout and face targets, in
// the order every later AGENT_STATE repeats positionally.
type AgentSpec struct {
	AgentID     string
	Bones       []BoneSpec
	FaceTargets []string
}

func (*AgentSpec) Type() byte { return TypeAgentSpec }

// ReadAgentSpec reads the payload after the type byte.
func ReadAgentSpec(r *Reader) (*AgentSpec, error) {
	var m AgentSpec
	var err error
	if m.AgentID, err = r.String("agent_id"); err != nil {
		return nil, err
	}
	n, err := r.Count("bone_count")
	if err != nil {
		return nil, err
	}
	m.Bones = make([]BoneSpec, 0, r.capHint(n, minSpecBoneSize))
	for i := 0; i < n; i++ {
		var b BoneSpec
		field := fmt.Sprintf("bones[%d]", i)
		if b.Name, err = r.String(field + ".name"); err != nil {
			return nil, err
		}
		if b.Parent, err = r.String(field + ".parent"); err != nil {
			return nil, err
		}
		if b.Alias, err = r.String(field + ".alias"); err != nil {
			return nil, err
		}
		if b.Transform, err = r.Transform(field + ".transform"); err != nil {
			return nil, err
		}
		m.Bones = append(m.Bones, b)
	}
	n, err = r.Count("face_target_count")
	if err != nil {
		return nil, err
	}
	m.FaceTargets = make([]string, 0, r.capHint(n, 1))
	for i := 0; i < n; i++ {
		name, err := r.String(fmt.Sprintf("face_targets[%d]", i))
		if err != nil {
			return nil, err
		}
		m.FaceTargets = append(m.FaceTargets, name)
	}
	return &m, nil
}

func (m *AgentSpec) check() error {
	if err := checkStrings(m.AgentID); err != nil {
		return err
	}
	for _, b := range m.Bones {
		if err := checkStrings(b.Name, b.Parent, b.Alias); err != nil {
			return err
		}
	}
	return checkStrings(m.FaceTargets...)
}

func (m *AgentSpec) write(w *Writer) {
	w.Byte(TypeAgentSpec)
	w.String(m.AgentID)
	w.Int32(int32(len(m.Bones)))
	for _, b := range m.Bones {
		w.String(b.Name)
		w.String(b.Parent)
		w.String(b.Alias)
		w.Transform(b.Transform)
	}
	w.Int32(int32(len(m.FaceTargets)))
	for _, name := range m.FaceTargets {
		w.String(name)
	}
}

// AGENT_STATE (bridge -> renderer): per-tick transforms and face weights.
// Bones and FaceWeights carry no names; they follow the AgentSpec order.
type AgentState struct {
	AgentID     string
	Bones       []Transform
	FaceWeights []float32
}

func (*AgentState) Type() byte { return TypeAgentState }

func ReadAgentState(r *Reader) (*AgentState, error) {
	var m AgentState
	var err error
	if m.AgentID, err = r.String("agent_id"); err != nil {
		return nil, err
	}
	n, err := r.Count("bone_count")
	if err != nil {
		return nil, err
	}
	m.Bones = make([]Transform, 0, r.capHint(n, TransformSize))
	for i := 0; i < n; i++ {
		t, err := r.Transform(fmt.Sprintf("bones[%d]", i))
		if err != nil {
			return nil, err
		}
		m.Bones = append(m.Bones, t)
	}
	n, err = r.Count("face_count")
	if err != nil {
		return nil, err
	}
	m.FaceWeights = make([]float32, 0, r.capHint(n, 4))
	for i := 0; i < n; i++ {
		v, err := r.Float32(fmt.Sprintf("face_weights[%d]", i))
		if err != nil {
			return nil, err
		}
		m.FaceWeights = append(m.FaceWeights, v)
	}
	return &m, nil
}

func (m *AgentState) write(w *Writer) {
	WriteStateHeader(w, m.AgentID, len(m.Bones))
	for _, t := range m.Bones {
		w.Transform(t)
	}
	w.Int32(int32(len(m.FaceWeights)))
	for _, v := range m.FaceWeights {
		w.Float32(v)
	}
}

// WriteStateHeader writes the type byte, agent id and bone count of an
// AGENT_STATE. Callers then write the transforms, the face count and the
// weights.
func WriteStateHeader(w *Writer, agentID string, bones int) {
	w.Byte(TypeAgentState)
	w.String(agentID)
	w.Int32(int32(bones))
}

// ReadWorldObjectRecord decodes the fixed 28-byte body of one world update entry.
func ReadWorldObjectRecord(b []byte) (Transform, error) {
	return NewReader(b).Transform("world_object")
}

func EncodeWorldObjectRecord(t Transform) []byte {
	w := NewWriter(make([]byte, 0, TransformSize), 0)
	w.Transform(t)
	return w.Bytes()
}

func (t Transform) WithTranslation(x, y, z float32) Transform {
	t.Translation = [3]float32{x, y, z}
	return t
}
