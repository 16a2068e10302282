package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/skeleton"
)

// Rig describes the agent this renderer owns and the world objects it
// streams.
type Rig struct {
	AgentID     string      `yaml:"agent_id"`
	Bones       []RigBone   `yaml:"bones"`
	FaceTargets []string    `yaml:"face_targets"`
	Objects     []RigObject `yaml:"objects"`
}

type RigBone struct {
	Name        string     `yaml:"name"`
	Parent      string     `yaml:"parent"`
	Alias       string     `yaml:"alias"`
	Translation [3]float32 `yaml:"translation"`
	// Rotation is w,x,y,z. Omitted means identity.
	Rotation *[4]float32 `yaml:"rotation"`
}

type RigObject struct {
	Name        string     `yaml:"name"`
	Translation [3]float32 `yaml:"translation"`
	// Radius > 0 moves the object on a circle around Translation.
	Radius float32 `yaml:"radius"`
}

func LoadRig(path string) (Rig, error) {
	var r Rig
	b, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("rig: %w", err)
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return r, fmt.Errorf("rig: missing agent_id")
	}
	// Same checks the bridge runs on arrival.
	if _, err := skeleton.Build(r.Spec().Bones); err != nil {
		return r, fmt.Errorf("rig: %w", err)
	}
	return r, nil
}

// Spec is the AGENT_SPEC this rig answers spec requests with.
func (r Rig) Spec() *protocol.AgentSpec {
	spec := &protocol.AgentSpec{AgentID: r.AgentID, FaceTargets: append([]string(nil), r.FaceTargets...)}
	for _, b := range r.Bones {
		t := protocol.IdentityTransform
		t.Translation = b.Translation
		if b.Rotation != nil {
			t.Rotation = *b.Rotation
		}
		spec.Bones = append(spec.Bones, protocol.BoneSpec{Name: b.Name, Parent: b.Parent, Alias: b.Alias, Transform: t})
	}
	return spec
}
