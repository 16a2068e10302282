package protocol

import (
	"bytes"
	"errors"
	"math"
	"reflect"
	"testing"
)

func sampleSpec() *AgentSpec {
	return &AgentSpec{
		AgentID: "agent1",
		Bones: []BoneSpec{
			{Name: "root", Alias: "Hips", Transform: IdentityTransform},
			{Name: "spine", Parent: "root", Alias: "Spine", Transform: Transform{
				Translation: [3]float32{0, 1, 0},
				Rotation:    [4]float32{1, 0, 0, 0},
			}},
		},
		FaceTargets: []string{"smile"},
	}
}

func TestEncodeDecode_SpecRequest(t *testing.T) {
	in := &SpecRequest{RequestedID: "agent1", SourceID: "loader"}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := append([]byte{TypeSpecRequest}, "agent1\x00loader\x00"...)
	if !bytes.Equal(b, want) {
		t.Fatalf("bytes=%q want %q", b, want)
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, ok := m.(*SpecRequest); !ok || *got != *in {
		t.Fatalf("got %#v want %#v", m, in)
	}
}

func TestEncodeDecode_AgentSpec(t *testing.T) {
	in := sampleSpec()
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(m, in) {
		t.Fatalf("got %#v want %#v", m, in)
	}
}

func TestEncodeDecode_AgentSpecEmpty(t *testing.T) {
	in := &AgentSpec{AgentID: "", Bones: []BoneSpec{}, FaceTargets: []string{}}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != 1+1+4+4 {
		t.Fatalf("len=%d", len(b))
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(m, in) {
		t.Fatalf("got %#v want %#v", m, in)
	}
}

func TestEncodeDecode_AgentStatePreservesBits(t *testing.T) {
	nan := math.Float32frombits(0x7fc00123)
	in := &AgentState{
		AgentID: "vh",
		Bones: []Transform{
			{Translation: [3]float32{1.5, -2, float32(math.Inf(1))}, Rotation: [4]float32{nan, 0, -0.0, 1e-38}},
		},
		FaceWeights: []float32{0.25, math.SmallestNonzeroFloat32},
	}
	b, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != StateSize("vh", 1, 2) {
		t.Fatalf("len=%d want %d", len(b), StateSize("vh", 1, 2))
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := m.(*AgentState)
	again, err := Encode(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(b, again) {
		t.Fatalf("re-encoded bytes differ")
	}
	if math.Float32bits(got.Bones[0].Rotation[0]) != 0x7fc00123 {
		t.Fatalf("nan payload lost: %08x", math.Float32bits(got.Bones[0].Rotation[0]))
	}
}

func TestDecode_LittleEndianLayout(t *testing.T) {
	b := []byte{TypeAgentState, 'a', 0, 1, 0, 0, 0}
	b = append(b, EncodeWorldObjectRecord(Transform{Translation: [3]float32{1, 0, 0}})...)
	b = append(b, 0, 0, 0, 0)
	m, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	st := m.(*AgentState)
	if len(st.Bones) != 1 || st.Bones[0].Translation[0] != 1 {
		t.Fatalf("bad state: %#v", st)
	}
	// 1.0f little-endian.
	if !bytes.Equal(b[7:11], []byte{0x00, 0x00, 0x80, 0x3f}) {
		t.Fatalf("float layout: % x", b[7:11])
	}
}

func TestDecode_TruncatedEveryPrefix(t *testing.T) {
	full, err := Encode(sampleSpec())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for n := 0; n < len(full); n++ {
		_, err := Decode(full[:n])
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("prefix %d: err=%v want ErrTruncated", n, err)
		}
	}
}

func TestDecode_TruncatedReportsField(t *testing.T) {
	_, err := Decode([]byte{TypeSpecRequest, 'a', 'b'})
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("err=%v want FieldError", err)
	}
	if fe.Field != "requested_id" || fe.Offset != 1 {
		t.Fatalf("field=%s offset=%d", fe.Field, fe.Offset)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte{0x7f})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err=%v want ErrUnknownType", err)
	}
}

func TestDecode_NegativeCount(t *testing.T) {
	b := []byte{TypeAgentSpec, 'a', 0, 0xff, 0xff, 0xff, 0xff}
	_, err := Decode(b)
	if !errors.Is(err, ErrBadCount) {
		t.Fatalf("err=%v want ErrBadCount", err)
	}
}

func TestDecode_HugeCountDoesNotPreallocate(t *testing.T) {
	b := []byte{TypeAgentState, 0, 0xff, 0xff, 0xff, 0x7f}
	_, err := Decode(b)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err=%v want ErrTruncated", err)
	}
}

func TestEncode_RejectsZeroInString(t *testing.T) {
	_, err := Encode(&SpecRequest{RequestedID: "a\x00b"})
	if !errors.Is(err, ErrInvalidString) {
		t.Fatalf("err=%v want ErrInvalidString", err)
	}
}

func TestWriter_Limit(t *testing.T) {
	w := NewWriter(make([]byte, 0, 8), 6)
	w.Int32(1)
	w.Int32(2)
	w.Byte(3)
	if !errors.Is(w.Err(), ErrCapacityExceeded) {
		t.Fatalf("err=%v want ErrCapacityExceeded", w.Err())
	}
	if w.Len() != 4 {
		t.Fatalf("len=%d want 4", w.Len())
	}
}

func TestReadWorldObjectRecord(t *testing.T) {
	in := Transform{Translation: [3]float32{1, 2, 3}, Rotation: [4]float32{0.5, 0.5, 0.5, 0.5}}
	got, err := ReadWorldObjectRecord(EncodeWorldObjectRecord(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != in {
		t.Fatalf("got %#v want %#v", got, in)
	}
	if _, err := ReadWorldObjectRecord(make([]byte, TransformSize-1)); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err=%v want ErrTruncated", err)
	}
}
