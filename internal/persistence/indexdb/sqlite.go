package indexdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/embodiment"
	"hmibridge/internal/sim/objects"
)

// SQLiteIndex is a read model of what the bridge has seen: applied agent
// specs, world object positions and published frames. Writes go through
// a buffered channel to one writer goroutine and are dropped if it falls
// behind; the bridge never waits on the database.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends against close(ch).
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqSpec reqKind = iota + 1
	reqObject
	reqFrame
)

type req struct {
	kind reqKind

	spec   specRow
	object objectRow
	frame  frameRow
}

type specRow struct {
	AgentID     string
	LoaderID    string
	Hash        string
	Tick        uint64
	Bones       []protocol.BoneSpec
	FaceTargets int
	RecordedAt  string
}

type objectRow struct {
	ID        string
	T         objects.Vec3
	UpdatedAt string
}

type frameRow struct {
	Session string
	Tick    uint64
	AgentID string
	Updates int
	Bytes   int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// One object write per update per tick; leave room for bursts.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_specs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			loader_id TEXT NOT NULL,
			spec_hash TEXT NOT NULL,
			tick INTEGER NOT NULL,
			bones INTEGER NOT NULL,
			face_targets INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_specs_agent ON agent_specs(agent_id, seq);`,
		`CREATE TABLE IF NOT EXISTS bones (
			spec_seq INTEGER NOT NULL REFERENCES agent_specs(seq),
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			parent TEXT NOT NULL,
			alias TEXT NOT NULL,
			PRIMARY KEY (spec_seq, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS world_objects (
			id TEXT PRIMARY KEY,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			session TEXT NOT NULL,
			tick INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			updates INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			PRIMARY KEY (agent_id, session, tick)
		);`,
	}
	if err := dropStaleFrames(db); err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// dropStaleFrames removes a frames table written before runs were keyed by
// session. Its rows cannot be told apart, and frames are only a read model.
func dropStaleFrames(db *sql.DB) error {
	var cols, session int
	err := db.QueryRow(`SELECT COUNT(*), COUNT(CASE WHEN name = 'session' THEN 1 END) FROM pragma_table_info('frames')`).Scan(&cols, &session)
	if err != nil {
		return err
	}
	if cols == 0 || session > 0 {
		return nil
	}
	_, err = db.Exec(`DROP TABLE frames`)
	return err
}

// Close drains pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports writes discarded because the writer fell behind.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) send(r req) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Fingerprint is the hex blake3 hash of the encoded spec. Renderers resend
// the same spec on every reconnect; equal fingerprints are stored once.
func Fingerprint(spec *protocol.AgentSpec) (string, error) {
	b, err := protocol.Encode(spec)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:16]), nil
}

// RecordSpec implements embodiment.SpecIndex.
func (s *SQLiteIndex) RecordSpec(loaderID string, tick uint64, spec *protocol.AgentSpec) {
	if spec == nil {
		return
	}
	hash, err := Fingerprint(spec)
	if err != nil {
		return
	}
	s.send(req{kind: reqSpec, spec: specRow{
		AgentID:     spec.AgentID,
		LoaderID:    loaderID,
		Hash:        hash,
		Tick:        tick,
		Bones:       append([]protocol.BoneSpec(nil), spec.Bones...),
		FaceTargets: len(spec.FaceTargets),
		RecordedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// RecordObject stores the latest position of a world object. It fits
// objects.Manager.OnWrite.
func (s *SQLiteIndex) RecordObject(id string, t objects.Vec3) {
	s.send(req{kind: reqObject, object: objectRow{
		ID:        id,
		T:         t,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// RecordFrame implements embodiment.FrameRecorder.
func (s *SQLiteIndex) RecordFrame(f embodiment.FrameRecord) error {
	s.send(req{kind: reqFrame, frame: frameRow{
		Session: f.Session,
		Tick:    f.Tick,
		AgentID: f.AgentID,
		Updates: f.Updates,
		Bytes:   f.Bytes,
	}})
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 2000
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		if err := s.apply(tx, r); err != nil {
			rollback()
			continue
		}
		opCount++
		// Commit when caught up so readers see fresh rows.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func (s *SQLiteIndex) apply(tx *sql.Tx, r req) error {
	switch r.kind {
	case reqSpec:
		sp := r.spec
		var last string
		err := tx.QueryRow(`SELECT spec_hash FROM agent_specs WHERE agent_id = ? ORDER BY seq DESC LIMIT 1`, sp.AgentID).Scan(&last)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if last == sp.Hash {
			return nil
		}
		res, err := tx.Exec(`INSERT INTO agent_specs(agent_id,loader_id,spec_hash,tick,bones,face_targets,recorded_at) VALUES(?,?,?,?,?,?,?)`,
			sp.AgentID, sp.LoaderID, sp.Hash, int64(sp.Tick), len(sp.Bones), sp.FaceTargets, sp.RecordedAt)
		if err != nil {
			return err
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for i, b := range sp.Bones {
			if _, err := tx.Exec(`INSERT INTO bones(spec_seq,idx,name,parent,alias) VALUES(?,?,?,?,?)`,
				seq, i, b.Name, b.Parent, b.Alias); err != nil {
				return err
			}
		}
	case reqObject:
		o := r.object
		if _, err := tx.Exec(`INSERT INTO world_objects(id,x,y,z,updated_at) VALUES(?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET x=excluded.x, y=excluded.y, z=excluded.z, updated_at=excluded.updated_at`,
			o.ID, float64(o.T[0]), float64(o.T[1]), float64(o.T[2]), o.UpdatedAt); err != nil {
			return err
		}
	case reqFrame:
		f := r.frame
		if _, err := tx.Exec(`INSERT OR REPLACE INTO frames(session,tick,agent_id,updates,bytes) VALUES(?,?,?,?,?)`,
			f.Session, int64(f.Tick), f.AgentID, f.Updates, f.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// SpecSummary is the latest recorded spec for an agent.
type SpecSummary struct {
	AgentID     string
	LoaderID    string
	Hash        string
	Tick        uint64
	FaceTargets int
	Bones       []protocol.BoneSpec
}

// LatestSpec returns the most recent spec recorded for agentID.
func (s *SQLiteIndex) LatestSpec(ctx context.Context, agentID string) (SpecSummary, bool, error) {
	var (
		out  SpecSummary
		seq  int64
		tick int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT seq, agent_id, loader_id, spec_hash, tick, face_targets FROM agent_specs
		WHERE agent_id = ? ORDER BY seq DESC LIMIT 1`, agentID).Scan(&seq, &out.AgentID, &out.LoaderID, &out.Hash, &tick, &out.FaceTargets)
	if err == sql.ErrNoRows {
		return SpecSummary{}, false, nil
	}
	if err != nil {
		return SpecSummary{}, false, err
	}
	out.Tick = uint64(tick)

	rows, err := s.db.QueryContext(ctx, `SELECT name, parent, alias FROM bones WHERE spec_seq = ? ORDER BY idx`, seq)
	if err != nil {
		return SpecSummary{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var b protocol.BoneSpec
		if err := rows.Scan(&b.Name, &b.Parent, &b.Alias); err != nil {
			return SpecSummary{}, false, err
		}
		out.Bones = append(out.Bones, b)
	}
	return out, true, rows.Err()
}

// LoadObjects returns every stored world object, sorted by id.
func (s *SQLiteIndex) LoadObjects(ctx context.Context) ([]objects.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, x, y, z FROM world_objects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []objects.Snapshot
	for rows.Next() {
		var (
			o       objects.Snapshot
			x, y, z float64
		)
		if err := rows.Scan(&o.ID, &x, &y, &z); err != nil {
			return nil, err
		}
		o.Translation = objects.Vec3{float32(x), float32(y), float32(z)}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SpecCount returns how many distinct specs were stored for agentID.
func (s *SQLiteIndex) SpecCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_specs WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// FrameCount returns how many frames were recorded for agentID, over all
// sessions.
func (s *SQLiteIndex) FrameCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE agent_id = ?`, agentID).Scan(&n)
	return n, err
}

// Sessions returns the runs that recorded frames for agentID, oldest first.
func (s *SQLiteIndex) Sessions(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session FROM frames WHERE agent_id = ? ORDER BY session`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
