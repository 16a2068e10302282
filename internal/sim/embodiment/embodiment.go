// Package embodiment keeps one agent's skeleton and face state in sync
// with a remote renderer. Inbound deliveries reconfigure the agent or
// queue world object moves; every tick applies the queued moves and
// publishes one AGENT_STATE frame.
package embodiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"hmibridge/internal/metrics"
	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/objects"
	"hmibridge/internal/sim/skeleton"
)

type State int

const (
	Unconfigured State = iota
	Configured
)

func (s State) String() string {
	switch s {
	case Configured:
		return "CONFIGURED"
	default:
		return "UNCONFIGURED"
	}
}

// Publisher sends one binary message to the renderer. The slice is only
// valid for the duration of the call.
type Publisher interface {
	Publish(ctx context.Context, msg []byte) error
}

// FrameRecord describes one published tick. Ticks restart at 1 in every
// process; Session tells runs apart.
type FrameRecord struct {
	Session string `json:"session"`
	Tick    uint64 `json:"tick"`
	AgentID string `json:"agent_id"`
	Updates int    `json:"updates"`
	Bytes   int    `json:"bytes"`
	State   []byte `json:"state,omitempty"`
}

// FrameRecorder receives every published frame. State aliases the
// scratch buffer and must be consumed before RecordFrame returns.
type FrameRecorder interface {
	RecordFrame(FrameRecord) error
}

// SpecIndex is told about every applied agent spec.
type SpecIndex interface {
	RecordSpec(loaderID string, tick uint64, spec *protocol.AgentSpec)
}

type Config struct {
	// AgentID names the agent in outbound AGENT_STATE frames. Empty uses
	// the id from the applied spec.
	AgentID string
	// LoaderID identifies this bridge to the renderer in spec requests.
	LoaderID string
	// Session names this run in frame records. Empty uses the start time.
	Session       string
	MaxFrameBytes int
	TickRateHz    int
}

type Deps struct {
	Registry  objects.Registry
	Publisher Publisher

	Logger    *log.Logger
	Metrics   *metrics.Bridge
	Recorders []FrameRecorder
	Index     SpecIndex
	// AUConverter enables the FACS capability for this agent.
	AUConverter AUConverter
}

type Embodiment struct {
	cfg   Config
	reg   objects.Registry
	pub   Publisher
	log   *log.Logger
	m     *metrics.Bridge
	recs  []FrameRecorder
	index SpecIndex
	auc   AUConverter

	queue *UpdateQueue

	// mu is the single critical section shared by inbound handling and
	// ticks. Everything below is guarded by it.
	mu          sync.Mutex
	state       State
	specAgentID string
	skel        *skeleton.Skeleton
	faces       *skeleton.FaceTargets
	writer      *skeleton.StateWriter
	mpeg4       MPEG4Config
	tick        uint64
}

func New(cfg Config, deps Deps) (*Embodiment, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("embodiment: nil registry")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("embodiment: nil publisher")
	}
	if strings.IndexByte(cfg.AgentID, 0) >= 0 || strings.IndexByte(cfg.LoaderID, 0) >= 0 {
		return nil, fmt.Errorf("embodiment: agent/loader id: %w", protocol.ErrInvalidString)
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 30
	}
	if cfg.Session == "" {
		cfg.Session = NewSession(time.Now())
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Embodiment{
		cfg:    cfg,
		reg:    deps.Registry,
		pub:    deps.Publisher,
		log:    logger,
		m:      deps.Metrics,
		recs:   deps.Recorders,
		index:  deps.Index,
		auc:    deps.AUConverter,
		queue:  NewUpdateQueue(),
		writer: skeleton.NewStateWriter(cfg.MaxFrameBytes),
	}
	e.m.Configured(false)
	return e, nil
}

// NewSession formats a run id that sorts by start time.
func NewSession(start time.Time) string {
	return start.UTC().Format("20060102T150405.000000000Z")
}

// Session is the run id written into frame records.
func (e *Embodiment) Session() string { return e.cfg.Session }

// ID is the loader id this bridge announces itself with.
func (e *Embodiment) ID() string { return e.cfg.LoaderID }

// AgentID is the id written into AGENT_STATE frames.
func (e *Embodiment) AgentID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agentIDLocked()
}

func (e *Embodiment) agentIDLocked() string {
	if e.cfg.AgentID != "" {
		return e.cfg.AgentID
	}
	return e.specAgentID
}

func (e *Embodiment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Embodiment) Configured() bool { return e.State() == Configured }

// RequestAgent asks the renderer for the AgentSpec of requestedID.
func (e *Embodiment) RequestAgent(ctx context.Context, requestedID, sourceID string) error {
	msg, err := protocol.Encode(&protocol.SpecRequest{RequestedID: requestedID, SourceID: sourceID})
	if err != nil {
		return err
	}
	if err := e.pub.Publish(ctx, msg); err != nil {
		e.m.Error("request", protocol.ErrorCode(err))
		return fmt.Errorf("request agent %q: %w", requestedID, err)
	}
	e.log.Printf("sent spec request agent=%s source=%s", requestedID, sourceID)
	return nil
}

// HandleBinary handles one binary bus message. A bad spec leaves the
// current configuration in place.
func (e *Embodiment) HandleBinary(ctx context.Context, b []byte) error {
	// Decoding touches no shared state; only the commit takes the lock.
	msg, err := protocol.Decode(b)
	if err != nil {
		e.m.Error("decode", protocol.ErrorCode(err))
		return fmt.Errorf("decode: %w", err)
	}
	e.m.Received(protocol.TypeName(msg.Type()))
	spec, ok := msg.(*protocol.AgentSpec)
	if !ok {
		e.log.Printf("ignoring %s message", protocol.TypeName(msg.Type()))
		return nil
	}
	return e.ApplySpec(spec)
}

// ApplySpec rebuilds the skeleton and face table from spec and switches
// to Configured. On error nothing changes.
func (e *Embodiment) ApplySpec(spec *protocol.AgentSpec) error {
	sk, faces, err := skeleton.FromSpec(spec)
	if err != nil {
		e.m.Error("spec", protocol.ErrorCode(err))
		return err
	}

	e.mu.Lock()
	e.skel = sk
	e.faces = faces
	e.specAgentID = spec.AgentID
	e.state = Configured
	id := e.agentIDLocked()
	tick := e.tick
	e.mu.Unlock()

	e.m.Configured(true)
	e.log.Printf("agent spec applied agent=%s bones=%d face_targets=%d", spec.AgentID, sk.Len(), faces.Len())
	if id != spec.AgentID {
		e.log.Printf("spec agent %q differs from configured agent %q; frames keep %q", spec.AgentID, id, id)
	}
	if need := protocol.StateSize(id, sk.Len(), faces.Len()); need > e.writer.MaxFrameBytes() {
		e.log.Printf("warning: state frame needs %d bytes, limit %d; ticks will fail", need, e.writer.MaxFrameBytes())
	}
	if e.index != nil {
		e.index.RecordSpec(e.cfg.LoaderID, tick, spec)
	}
	return nil
}

// HandleWorldUpdate queues one move per object in delivery order. A bad
// or interrupted entry is reported but does not stop the rest.
func (e *Embodiment) HandleWorldUpdate(ctx context.Context, objs protocol.WorldObjects) error {
	e.m.Received("WORLD_UPDATE")
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, o := range objs {
		t, err := protocol.ReadWorldObjectRecord(o.Record)
		if err != nil {
			e.m.Error("world_update", protocol.ErrorCode(err))
			errs = append(errs, fmt.Errorf("object %q: %w", o.Name, err))
			continue
		}
		if err := e.queue.Enqueue(ctx, Update{ID: o.Name, Translation: t.Translation}); err != nil {
			e.m.Error("world_update", protocol.ErrorCode(err))
			errs = append(errs, err)
			continue
		}
		e.m.UpdateQueued(e.queue.Len())
	}
	return errors.Join(errs...)
}

// Tick applies every queued world update and publishes one state frame.
// It does nothing until a spec has been applied.
func (e *Embodiment) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Configured {
		e.m.TickIdle()
		return nil
	}
	e.tick++
	applied := e.drainLocked()

	id := e.agentIDLocked()
	frame, err := e.writer.Serialize(id, e.skel, e.faces)
	if err != nil {
		e.m.TickFailed()
		e.m.Error("tick", protocol.ErrorCode(err))
		return fmt.Errorf("tick %d: %w", e.tick, err)
	}
	if err := e.pub.Publish(ctx, frame); err != nil {
		e.m.TickFailed()
		e.m.Error("publish", protocol.ErrorCode(err))
		return fmt.Errorf("tick %d: publish: %w", e.tick, err)
	}
	e.m.TickPublished(len(frame))

	rec := FrameRecord{Session: e.cfg.Session, Tick: e.tick, AgentID: id, Updates: applied, Bytes: len(frame), State: frame}
	for _, r := range e.recs {
		if err := r.RecordFrame(rec); err != nil {
			e.log.Printf("tick %d: record frame: %v", e.tick, err)
		}
	}
	return nil
}

// drainLocked pops until the queue reports empty. It never waits for
// more updates.
func (e *Embodiment) drainLocked() int {
	n := 0
	for {
		u, ok := e.queue.Poll()
		if !ok {
			break
		}
		created := false
		if o, ok := e.reg.Lookup(u.ID); ok {
			o.SetTranslation(u.Translation)
		} else {
			e.reg.Create(u.ID, u.Translation)
			created = true
		}
		e.m.UpdateApplied(created)
		n++
	}
	e.m.QueueDepth(0)
	return n
}

// Close stops accepting world updates.
func (e *Embodiment) Close() { e.queue.Close() }

// Status is a point-in-time summary for health endpoints.
type Status struct {
	State       string `json:"state"`
	AgentID     string `json:"agent_id"`
	LoaderID    string `json:"loader_id"`
	Session     string `json:"session"`
	Bones       int    `json:"bones"`
	FaceTargets int    `json:"face_targets"`
	Tick        uint64 `json:"tick"`
	QueueDepth  int    `json:"queue_depth"`
}

func (e *Embodiment) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:       e.state.String(),
		AgentID:     e.agentIDLocked(),
		LoaderID:    e.cfg.LoaderID,
		Session:     e.cfg.Session,
		FaceTargets: e.faces.Len(),
		Tick:        e.tick,
		QueueDepth:  e.queue.Len(),
	}
	if e.skel != nil {
		st.Bones = e.skel.Len()
	}
	return st
}
