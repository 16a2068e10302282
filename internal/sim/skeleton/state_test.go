package skeleton

import (
	"errors"
	"math/rand"
	"testing"

	"hmibridge/internal/protocol"
)

func TestStateWriter_LengthAndOrder(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for _, n := range []int{0, 1, 5, 30} {
		for _, m := range []int{0, 1, 7} {
			sk, err := Build(randomTree(r, n))
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			names := make([]string, m)
			weights := make([]float32, m)
			for i := range names {
				names[i] = string(rune('a' + i))
				weights[i] = float32(i) / 10
			}
			faces := NewFaceTargets(names)
			faces.Set(names, weights)

			out, err := NewStateWriter(0).Serialize("vh", sk, faces)
			if err != nil {
				t.Fatalf("serialize n=%d m=%d: %v", n, m, err)
			}
			if want := 1 + 2 + 1 + 4 + n*28 + 4 + m*4; len(out) != want {
				t.Fatalf("n=%d m=%d len=%d want %d", n, m, len(out), want)
			}
			msg, err := protocol.Decode(out)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			st := msg.(*protocol.AgentState)
			for i, b := range sk.Bones() {
				if st.Bones[i] != b.Transform() {
					t.Fatalf("bone %d mismatch", i)
				}
			}
			for i := range weights {
				if st.FaceWeights[i] != weights[i] {
					t.Fatalf("weight %d mismatch", i)
				}
			}
		}
	}
}

func TestStateWriter_CapacityExceeded(t *testing.T) {
	sk, err := Build(randomTree(rand.New(rand.NewSource(1)), 10))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	w := NewStateWriter(protocol.StateSize("vh", 10, 0) - 1)
	if _, err := w.Serialize("vh", sk, NewFaceTargets(nil)); !errors.Is(err, protocol.ErrCapacityExceeded) {
		t.Fatalf("err=%v want ErrCapacityExceeded", err)
	}
	w = NewStateWriter(protocol.StateSize("vh", 10, 0))
	if _, err := w.Serialize("vh", sk, NewFaceTargets(nil)); err != nil {
		t.Fatalf("exact fit: %v", err)
	}
}

func TestStateWriter_ReusesScratch(t *testing.T) {
	sk, _ := Build(randomTree(rand.New(rand.NewSource(2)), 4))
	w := NewStateWriter(0)
	a, err := w.Serialize("vh", sk, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	sk.Bones()[0].SetTranslation(9, 9, 9)
	b, err := w.Serialize("vh", sk, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if &a[0] != &b[0] {
		t.Fatalf("scratch buffer was reallocated")
	}
}
