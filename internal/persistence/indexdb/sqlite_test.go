package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/embodiment"
	"hmibridge/internal/sim/objects"
)

func TestSQLiteIndex_RecordsAndReloads(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "bridge.sqlite")

	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	spec := &protocol.AgentSpec{
		AgentID: "agent1",
		Bones: []protocol.BoneSpec{
			{Name: "root", Alias: "Hips", Transform: protocol.IdentityTransform},
			{Name: "spine", Parent: "root", Alias: "Spine", Transform: protocol.IdentityTransform},
		},
		FaceTargets: []string{"smile", "blink"},
	}
	idx.RecordSpec("loader1", 0, spec)
	idx.RecordSpec("loader1", 5, spec)
	idx.RecordObject("cup", objects.Vec3{1, 2, 3})
	idx.RecordObject("cup", objects.Vec3{4, 5, 6})
	idx.RecordObject("ball", objects.Vec3{0.5, 0, 0})
	for i := 1; i <= 3; i++ {
		if err := idx.RecordFrame(embodiment.FrameRecord{Session: "run1", Tick: uint64(i), AgentID: "vh", Bytes: 72}); err != nil {
			t.Fatalf("record frame: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	got, ok, err := idx.LatestSpec(ctx, "agent1")
	if err != nil || !ok {
		t.Fatalf("latest spec: ok=%v err=%v", ok, err)
	}
	if got.LoaderID != "loader1" || got.FaceTargets != 2 || len(got.Bones) != 2 || got.Bones[1].Parent != "root" || got.Bones[0].Alias != "Hips" {
		t.Fatalf("spec=%+v", got)
	}
	if want, _ := Fingerprint(spec); got.Hash != want || got.Tick != 0 {
		t.Fatalf("hash=%s tick=%d want %s tick 0", got.Hash, got.Tick, want)
	}
	if n, err := idx.SpecCount(ctx, "agent1"); err != nil || n != 1 {
		t.Fatalf("identical spec stored %d times, err=%v", n, err)
	}
	if _, ok, err := idx.LatestSpec(ctx, "nobody"); ok || err != nil {
		t.Fatalf("unknown agent: ok=%v err=%v", ok, err)
	}

	objs, err := idx.LoadObjects(ctx)
	if err != nil {
		t.Fatalf("load objects: %v", err)
	}
	if len(objs) != 2 || objs[0].ID != "ball" || objs[1].Translation != (objects.Vec3{4, 5, 6}) {
		t.Fatalf("objects=%+v", objs)
	}

	n, err := idx.FrameCount(ctx, "vh")
	if err != nil || n != 3 {
		t.Fatalf("frames=%d err=%v", n, err)
	}
	if idx.Dropped() != 0 {
		t.Fatalf("dropped=%d", idx.Dropped())
	}
}

func TestSQLiteIndex_FramesOfTwoRunsKept(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.sqlite")
	for _, session := range []string{"run1", "run2"} {
		idx, err := OpenSQLite(dbPath)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		for i := 1; i <= 3; i++ {
			_ = idx.RecordFrame(embodiment.FrameRecord{Session: session, Tick: uint64(i), AgentID: "vh", Bytes: 72})
		}
		if err := idx.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()
	if n, err := idx.FrameCount(ctx, "vh"); err != nil || n != 6 {
		t.Fatalf("frames=%d err=%v want 6", n, err)
	}
	sessions, err := idx.Sessions(ctx, "vh")
	if err != nil || len(sessions) != 2 || sessions[0] != "run1" || sessions[1] != "run2" {
		t.Fatalf("sessions=%v err=%v", sessions, err)
	}
}

func TestSQLiteIndex_ReplacesFramesWithoutSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE frames (tick INTEGER NOT NULL, agent_id TEXT NOT NULL, updates INTEGER NOT NULL, bytes INTEGER NOT NULL, PRIMARY KEY (agent_id, tick))`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO frames VALUES (1, 'vh', 0, 72)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_ = db.Close()

	idx, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.RecordFrame(embodiment.FrameRecord{Session: "run1", Tick: 1, AgentID: "vh", Bytes: 72})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	if n, err := idx.FrameCount(context.Background(), "vh"); err != nil || n != 1 {
		t.Fatalf("frames=%d err=%v want 1", n, err)
	}
}

func TestSQLiteIndex_RecordRacesClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				idx.RecordObject("cup", objects.Vec3{float32(i), 0, 0})
				_ = idx.RecordFrame(embodiment.FrameRecord{Session: "run1", Tick: uint64(i + 1), AgentID: "vh"})
			}
		}()
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
}

func TestSQLiteIndex_AfterCloseIsNoop(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx.RecordObject("cup", objects.Vec3{})
	if err := idx.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestFingerprint_ChangesWithSpec(t *testing.T) {
	a := &protocol.AgentSpec{AgentID: "vh", FaceTargets: []string{"smile"}}
	b := &protocol.AgentSpec{AgentID: "vh", FaceTargets: []string{"smile", "blink"}}
	ha, err := Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	hb, _ := Fingerprint(b)
	if len(ha) != 32 || ha == hb {
		t.Fatalf("ha=%s hb=%s", ha, hb)
	}
	if again, _ := Fingerprint(a); again != ha {
		t.Fatalf("fingerprint not stable")
	}
}
