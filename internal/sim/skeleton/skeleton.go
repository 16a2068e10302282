package skeleton

import (
	"fmt"

	"hmibridge/internal/protocol"
)

// Skeleton is a bone tree plus the flat list of its bones in spec order.
// The flat order is the positional order of every AGENT_STATE.
type Skeleton struct {
	root    *Bone
	bones   []*Bone
	byName  map[string]*Bone
	byAlias map[string]*Bone
}

func (s *Skeleton) Root() *Bone { return s.root }

// Bones returns the flat list. Callers must not reorder it.
func (s *Skeleton) Bones() []*Bone { return s.bones }
func (s *Skeleton) Len() int       { return len(s.bones) }

func (s *Skeleton) Bone(name string) *Bone { return s.byName[name] }

// ByAlias finds a bone by its external (e.g. HAnim) name.
func (s *Skeleton) ByAlias(alias string) *Bone { return s.byAlias[alias] }

// Build links a bone tree from spec records. Every non-root bone must name
// a parent that appeared earlier in the list.
func Build(bones []protocol.BoneSpec) (*Skeleton, error) {
	s := &Skeleton{
		bones:   make([]*Bone, 0, len(bones)),
		byName:  make(map[string]*Bone, len(bones)),
		byAlias: make(map[string]*Bone, len(bones)),
	}
	for i, rec := range bones {
		if _, dup := s.byName[rec.Name]; dup {
			return nil, fmt.Errorf("bones[%d] %q: %w", i, rec.Name, ErrDuplicateBone)
		}
		b := &Bone{name: rec.Name, alias: rec.Alias, local: rec.Transform}
		if rec.Parent == "" {
			if s.root != nil {
				return nil, fmt.Errorf("bones[%d] %q (root already %q): %w", i, rec.Name, s.root.name, ErrMultipleRoots)
			}
			s.root = b
		} else {
			p, ok := s.byName[rec.Parent]
			if !ok {
				return nil, fmt.Errorf("bones[%d] %q parent %q: %w", i, rec.Name, rec.Parent, ErrUnknownParent)
			}
			b.parent = p
			p.children = append(p.children, b)
		}
		s.bones = append(s.bones, b)
		s.byName[rec.Name] = b
		if rec.Alias != "" {
			if _, taken := s.byAlias[rec.Alias]; !taken {
				s.byAlias[rec.Alias] = b
			}
		}
	}
	return s, nil
}

// ParseSpec reads an AGENT_SPEC payload (after the type byte) and builds
// the skeleton and face target table. Nothing is returned on error.
func ParseSpec(r *protocol.Reader) (string, *Skeleton, *FaceTargets, error) {
	spec, err := protocol.ReadAgentSpec(r)
	if err != nil {
		return "", nil, nil, err
	}
	sk, faces, err := FromSpec(spec)
	if err != nil {
		return "", nil, nil, err
	}
	return spec.AgentID, sk, faces, nil
}

// FromSpec builds both tables from a decoded spec.
func FromSpec(spec *protocol.AgentSpec) (*Skeleton, *FaceTargets, error) {
	sk, err := Build(spec.Bones)
	if err != nil {
		return nil, nil, fmt.Errorf("agent %q: %w", spec.AgentID, err)
	}
	return sk, NewFaceTargets(spec.FaceTargets), nil
}
