package main

import (
	"strings"
	"testing"

	persistlog "hmibridge/internal/persistence/log"

	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/embodiment"
)

func stateRecord(t *testing.T, tick uint64, agent string, bones, faces int) embodiment.FrameRecord {
	t.Helper()
	st := &protocol.AgentState{AgentID: agent, Bones: make([]protocol.Transform, bones), FaceWeights: make([]float32, faces)}
	b, err := protocol.Encode(st)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return embodiment.FrameRecord{Tick: tick, AgentID: agent, Bytes: len(b), State: b}
}

func TestChecker_AcceptsValidStream(t *testing.T) {
	c := newChecker("", 0, 0)
	for _, tick := range []uint64{1, 2, 5} {
		st, err := c.check(stateRecord(t, tick, "vh", 3, 2))
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if st == nil || len(st.Bones) != 3 || len(st.FaceWeights) != 2 {
			t.Fatalf("state=%+v", st)
		}
	}
	if _, err := c.check(embodiment.FrameRecord{Tick: 6, AgentID: "vh", Bytes: 10}); err != nil {
		t.Fatalf("stateless record: %v", err)
	}
	if c.frames != 4 || c.decoded != 3 || c.sessions != 1 {
		t.Fatalf("checker=%+v", c)
	}
}

func TestChecker_Rejects(t *testing.T) {
	good := stateRecord(t, 2, "vh", 1, 0)

	cases := []struct {
		name string
		prev *embodiment.FrameRecord
		rec  func() embodiment.FrameRecord
		want string
	}{
		{"tick goes back", &good, func() embodiment.FrameRecord { return stateRecord(t, 2, "vh", 1, 0) }, "not increasing"},
		{"byte count", nil, func() embodiment.FrameRecord { r := stateRecord(t, 1, "vh", 1, 0); r.Bytes++; return r }, "record says"},
		{"agent mismatch", nil, func() embodiment.FrameRecord { r := stateRecord(t, 1, "vh", 1, 0); r.AgentID = "other"; return r }, "state agent"},
		{"not a state", nil, func() embodiment.FrameRecord {
			b, _ := protocol.Encode(&protocol.SpecRequest{RequestedID: "a", SourceID: "b"})
			return embodiment.FrameRecord{Tick: 1, AgentID: "vh", Bytes: len(b), State: b}
		}, "want AGENT_STATE"},
		{"truncated", nil, func() embodiment.FrameRecord {
			r := stateRecord(t, 1, "vh", 2, 0)
			r.State = r.State[:len(r.State)-5]
			r.Bytes = len(r.State)
			return r
		}, ""},
	}
	for _, tc := range cases {
		c := newChecker("", 0, 0)
		if tc.prev != nil {
			if _, err := c.check(*tc.prev); err != nil {
				t.Fatalf("%s: prev: %v", tc.name, err)
			}
		}
		_, err := c.check(tc.rec())
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v want %q", tc.name, err, tc.want)
		}
	}
}

func TestChecker_FiltersTickRange(t *testing.T) {
	c := newChecker("vh", 2, 3)
	if st, err := c.check(stateRecord(t, 1, "other", 1, 0)); st != nil || err != nil {
		t.Fatalf("filtered agent: st=%v err=%v", st, err)
	}
	if st, err := c.check(stateRecord(t, 1, "vh", 1, 0)); st != nil || err != nil {
		t.Fatalf("before from: st=%v err=%v", st, err)
	}
	if _, err := c.check(stateRecord(t, 2, "vh", 1, 0)); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if st, err := c.check(stateRecord(t, 4, "vh", 1, 0)); st != nil || err != nil {
		t.Fatalf("after to: st=%v err=%v", st, err)
	}
	next := stateRecord(t, 3, "vh", 1, 0)
	next.Session = "run2"
	if _, err := c.check(next); err != nil {
		t.Fatalf("next run: %v", err)
	}
	if c.frames != 2 {
		t.Fatalf("frames=%d", c.frames)
	}
}

func TestChecker_RunsRestartTicks(t *testing.T) {
	c := newChecker("", 0, 0)
	for _, session := range []string{"run1", "run2"} {
		for tick := uint64(1); tick <= 3; tick++ {
			rec := stateRecord(t, tick, "vh", 2, 1)
			rec.Session = session
			if _, err := c.check(rec); err != nil {
				t.Fatalf("%s tick %d: %v", session, tick, err)
			}
		}
	}
	if c.sessions != 2 || c.frames != 6 {
		t.Fatalf("sessions=%d frames=%d", c.sessions, c.frames)
	}

	back := stateRecord(t, 4, "vh", 2, 1)
	back.Session = "run1"
	if _, err := c.check(back); err == nil || !strings.Contains(err.Error(), "resumes") {
		t.Fatalf("err=%v want resumed run rejected", err)
	}
}

func TestChecker_SessionFilter(t *testing.T) {
	c := newChecker("", 0, 0)
	c.session = "run2"
	a := stateRecord(t, 5, "vh", 1, 0)
	a.Session = "run1"
	if st, err := c.check(a); st != nil || err != nil {
		t.Fatalf("other run: st=%v err=%v", st, err)
	}
	b := stateRecord(t, 1, "vh", 1, 0)
	b.Session = "run2"
	if st, err := c.check(b); st == nil || err != nil {
		t.Fatalf("run2: st=%v err=%v", st, err)
	}
}

func TestChecker_FrameLogOfTwoRuns(t *testing.T) {
	dir := t.TempDir()
	for _, session := range []string{"run1", "run2"} {
		l := persistlog.NewFrameLogger(dir)
		for tick := uint64(1); tick <= 3; tick++ {
			rec := stateRecord(t, tick, "vh", 2, 1)
			rec.Session = session
			if err := l.RecordFrame(rec); err != nil {
				t.Fatalf("record: %v", err)
			}
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	files, err := persistlog.ListFrameFiles(persistlog.FrameDir(dir))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	c := newChecker("", 0, 0)
	for _, f := range files {
		if err := persistlog.ReadFrames(f, func(rec embodiment.FrameRecord) error {
			_, err := c.check(rec)
			return err
		}); err != nil {
			t.Fatalf("replay %s: %v", f, err)
		}
	}
	if c.sessions != 2 || c.frames != 6 || c.decoded != 6 {
		t.Fatalf("sessions=%d frames=%d decoded=%d", c.sessions, c.frames, c.decoded)
	}
}
