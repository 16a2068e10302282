package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	persistlog "hmibridge/internal/persistence/log"
	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/embodiment"
)

func main() {
	var (
		framesDir = flag.String("frames", "./data/frames", "frames dir containing frames-*.jsonl.zst")
		agentID   = flag.String("agent", "", "only check frames of this agent (optional)")
		session   = flag.String("session", "", "only check frames of this bridge run (optional)")
		fromTick  = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		verbose   = flag.Bool("v", false, "print every checked frame")
	)
	flag.Parse()

	files, err := persistlog.ListFrameFiles(*framesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list frames:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frame files found in", *framesDir)
		os.Exit(1)
	}

	c := newChecker(*agentID, *fromTick, *toTick)
	c.session = *session
	for _, path := range files {
		err := persistlog.ReadFrames(path, func(rec embodiment.FrameRecord) error {
			st, err := c.check(rec)
			if err != nil {
				return fmt.Errorf("tick %d: %w", rec.Tick, err)
			}
			if *verbose && st != nil {
				fmt.Printf("session=%s tick=%d agent=%s bones=%d faces=%d updates=%d bytes=%d\n",
					rec.Session, rec.Tick, st.AgentID, len(st.Bones), len(st.FaceWeights), rec.Updates, rec.Bytes)
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: files=%d sessions=%d frames=%d decoded=%d updates=%d state=%s\n",
		len(files), c.sessions, c.frames, c.decoded, c.updates, humanize.Bytes(uint64(c.bytes)))
}

// checker validates a stream of frame records in file order. Every bridge
// run restarts its ticks at 1, so tick order is checked per agent and run.
type checker struct {
	agent    string
	session  string
	from, to uint64

	seen     map[string]run
	runs     map[run]bool
	sessions int
	frames   int
	decoded  int
	updates  int
	bytes    int
}

type run struct {
	agent, session string
	tick           uint64
}

func newChecker(agent string, from, to uint64) *checker {
	return &checker{agent: agent, from: from, to: to, seen: map[string]run{}, runs: map[run]bool{}}
}

// check returns the decoded state when the record carries one. Ticks must
// grow within a run; a gap is a failed tick and is allowed. from and to
// bound the ticks of every run.
func (c *checker) check(rec embodiment.FrameRecord) (*protocol.AgentState, error) {
	if c.agent != "" && rec.AgentID != c.agent {
		return nil, nil
	}
	if c.session != "" && rec.Session != c.session {
		return nil, nil
	}
	key := run{agent: rec.AgentID, session: rec.Session}
	last, ok := c.seen[rec.AgentID]
	switch {
	case !ok || last.session != rec.Session:
		if c.runs[key] {
			return nil, fmt.Errorf("run %q of agent %s resumes after run %q", rec.Session, rec.AgentID, last.session)
		}
		c.runs[key] = true
		c.sessions++
	case rec.Tick <= last.tick:
		return nil, fmt.Errorf("tick not increasing: last=%d got=%d agent=%s session=%s", last.tick, rec.Tick, rec.AgentID, rec.Session)
	}
	key.tick = rec.Tick
	c.seen[rec.AgentID] = key
	if rec.Tick < c.from || (c.to != 0 && rec.Tick > c.to) {
		return nil, nil
	}

	c.frames++
	c.updates += rec.Updates
	c.bytes += rec.Bytes

	if rec.State == nil {
		return nil, nil
	}
	if len(rec.State) != rec.Bytes {
		return nil, fmt.Errorf("state has %d bytes, record says %d", len(rec.State), rec.Bytes)
	}
	msg, err := protocol.Decode(rec.State)
	if err != nil {
		return nil, err
	}
	st, ok := msg.(*protocol.AgentState)
	if !ok {
		return nil, fmt.Errorf("frame is %s, want AGENT_STATE", protocol.TypeName(msg.Type()))
	}
	if st.AgentID != rec.AgentID {
		return nil, fmt.Errorf("state agent %q, record agent %q", st.AgentID, rec.AgentID)
	}
	if want := protocol.StateSize(st.AgentID, len(st.Bones), len(st.FaceWeights)); want != rec.Bytes {
		return nil, fmt.Errorf("size %d, layout needs %d", rec.Bytes, want)
	}
	c.decoded++
	return st, nil
}
