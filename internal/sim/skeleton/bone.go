package skeleton

import "hmibridge/internal/protocol"

// Bone is one joint. Its parent and children are fixed when the skeleton
// is built; the transform is written by the animation side every tick.
type Bone struct {
	name     string
	alias    string
	parent   *Bone
	children []*Bone

	local protocol.Transform
}

func (b *Bone) Name() string      { return b.name }
func (b *Bone) Alias() string     { return b.alias }
func (b *Bone) Parent() *Bone     { return b.parent }
func (b *Bone) Children() []*Bone { return b.children }
func (b *Bone) IsRoot() bool      { return b.parent == nil }

func (b *Bone) Transform() protocol.Transform { return b.local }
func (b *Bone) Translation() [3]float32       { return b.local.Translation }

// Rotation is w,x,y,z.
func (b *Bone) Rotation() [4]float32 { return b.local.Rotation }

func (b *Bone) SetTranslation(x, y, z float32) {
	b.local.Translation = [3]float32{x, y, z}
}

func (b *Bone) SetRotation(w, x, y, z float32) {
	b.local.Rotation = [4]float32{w, x, y, z}
}

func (b *Bone) SetTransform(t protocol.Transform) { b.local = t }

// Walk visits b and its descendants depth-first, parents before children.
// Returning false from fn skips that bone's subtree.
func (b *Bone) Walk(fn func(*Bone) bool) {
	if b == nil || !fn(b) {
		return
	}
	for _, c := range b.children {
		c.Walk(fn)
	}
}

// BoneInfo is a detached copy of a bone subtree. Changing it has no effect
// on the skeleton.
type BoneInfo struct {
	Name      string
	Alias     string
	Transform protocol.Transform
	Children  []BoneInfo
}

// Info copies b and its descendants.
func (b *Bone) Info() BoneInfo {
	bi := BoneInfo{Name: b.name, Alias: b.alias, Transform: b.local}
	if len(b.children) > 0 {
		bi.Children = make([]BoneInfo, len(b.children))
		for i, c := range b.children {
			bi.Children[i] = c.Info()
		}
	}
	return bi
}
