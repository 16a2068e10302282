package embodiment

import (
	"fmt"

	"hmibridge/internal/sim/skeleton"
)

// SkeletonEmbodiment gives the animation side access to the bones. Bones
// are only writable inside Animate.
type SkeletonEmbodiment interface {
	// AnimationRoot returns a copy of the bone tree; ok is false until a
	// spec has been applied.
	AnimationRoot() (root skeleton.BoneInfo, ok bool)
	// Animate runs fn with exclusive access to the skeleton, between ticks.
	Animate(fn func(*skeleton.Skeleton)) error
}

// FaceController drives morph target weights and the MPEG-4 face state.
type FaceController interface {
	SetMorphTargets(names []string, weights []float32)
	AddMorphTargets(names []string, weights []float32)
	RemoveMorphTargets(names []string, weights []float32)
	CurrentWeight(name string) float32

	SetMPEG4Configuration(MPEG4Config)
	AddMPEG4Configuration(MPEG4Config)
	RemoveMPEG4Configuration(MPEG4Config)
}

type FaceEmbodiment interface {
	FaceController() FaceController
	PossibleFaceMorphTargetNames() []string
}

// Side selects which half of the face an action unit applies to.
type Side int

const (
	Both Side = iota
	Left
	Right
)

// AUConfig is one FACS action unit activation.
type AUConfig struct {
	Side  Side
	AU    int
	Value float32
}

// AUConverter maps action units onto this agent's morph targets.
type AUConverter interface {
	Convert(configs []AUConfig) (names []string, weights []float32)
}

type FACSFaceEmbodiment interface {
	SetAUs(configs ...AUConfig) error
}

// MPEG4Config holds facial animation parameter values.
type MPEG4Config struct {
	Values []float32
}

func (c *MPEG4Config) set(o MPEG4Config) {
	c.Values = append(c.Values[:0], o.Values...)
}

func (c *MPEG4Config) add(o MPEG4Config, sign float32) {
	if len(c.Values) < len(o.Values) {
		c.Values = append(c.Values, make([]float32, len(o.Values)-len(c.Values))...)
	}
	for i, v := range o.Values {
		c.Values[i] += sign * v
	}
}

// Skeleton returns the skeleton capability.
func (e *Embodiment) Skeleton() SkeletonEmbodiment { return skeletonCap{e} }

// Face returns the face capability.
func (e *Embodiment) Face() FaceEmbodiment { return faceCap{e} }

// FACS returns the action unit capability. It is only available when an
// AUConverter was configured for this agent.
func (e *Embodiment) FACS() (FACSFaceEmbodiment, bool) {
	if e.auc == nil {
		return nil, false
	}
	return facsCap{e}, true
}

type skeletonCap struct{ e *Embodiment }

func (c skeletonCap) AnimationRoot() (skeleton.BoneInfo, bool) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if c.e.skel == nil || c.e.skel.Root() == nil {
		return skeleton.BoneInfo{}, false
	}
	return c.e.skel.Root().Info(), true
}

func (c skeletonCap) Animate(fn func(*skeleton.Skeleton)) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if c.e.state != Configured {
		return ErrNotConfigured
	}
	fn(c.e.skel)
	return nil
}

type faceCap struct{ e *Embodiment }

func (c faceCap) FaceController() FaceController { return c }

func (c faceCap) PossibleFaceMorphTargetNames() []string {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return c.e.faces.Names()
}

// SetMorphTargets replaces weights of known targets; unknown names are ignored.
func (c faceCap) SetMorphTargets(names []string, weights []float32) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.faces.Set(names, weights)
}

func (c faceCap) AddMorphTargets(names []string, weights []float32) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.faces.Add(names, weights)
}

func (c faceCap) RemoveMorphTargets(names []string, weights []float32) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.faces.Remove(names, weights)
}

func (c faceCap) CurrentWeight(name string) float32 {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return c.e.faces.Weight(name)
}

func (c faceCap) SetMPEG4Configuration(cfg MPEG4Config) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.mpeg4.set(cfg)
}

func (c faceCap) AddMPEG4Configuration(cfg MPEG4Config) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.mpeg4.add(cfg, 1)
}

func (c faceCap) RemoveMPEG4Configuration(cfg MPEG4Config) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.mpeg4.add(cfg, -1)
}

// MPEG4 returns a copy of the current MPEG-4 parameter values.
func (e *Embodiment) MPEG4() MPEG4Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return MPEG4Config{Values: append([]float32(nil), e.mpeg4.Values...)}
}

type facsCap struct{ e *Embodiment }

func (c facsCap) SetAUs(configs ...AUConfig) error {
	names, weights := c.e.auc.Convert(configs)
	if len(names) != len(weights) {
		return fmt.Errorf("au converter returned %d names for %d weights", len(names), len(weights))
	}
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if c.e.state != Configured {
		return ErrNotConfigured
	}
	c.e.faces.Set(names, weights)
	return nil
}
