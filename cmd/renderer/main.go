package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"time"

	"hmibridge/internal/protocol"
	"hmibridge/internal/transport/ws"
)

func main() {
	var (
		url         = flag.String("url", "ws://localhost:8080/v1/ws", "bridge ws url")
		rigPath     = flag.String("rig", "./configs/rig.yaml", "rig yaml")
		announce    = flag.Bool("announce", false, "send the agent spec on connect without waiting for a request")
		updateEvery = flag.Duration("update_every", 200*time.Millisecond, "world update interval (0 disables)")
		logEvery    = flag.Int("log_every", 30, "log every Nth received state")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[renderer] ", log.LstdFlags|log.Lmicroseconds)

	rig, err := LoadRig(*rigPath)
	if err != nil {
		logger.Fatalf("load rig: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := ws.Dial(ctx, *url)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	logger.Printf("connected url=%s agent=%s bones=%d face_targets=%d objects=%d",
		*url, rig.AgentID, len(rig.Bones), len(rig.FaceTargets), len(rig.Objects))

	if *announce {
		if err := conn.SendMessage(rig.Spec()); err != nil {
			logger.Fatalf("send AGENT_SPEC: %v", err)
		}
	}
	if *updateEvery > 0 && len(rig.Objects) > 0 {
		go streamObjects(ctx, conn, rig.Objects, *updateEvery, logger)
	}

	var states uint64
	for {
		env, err := conn.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Printf("read: %v", err)
			}
			return
		}
		if env.Binary == nil {
			continue
		}
		msg, err := protocol.Decode(env.Binary.Content)
		if err != nil {
			logger.Printf("decode: %v", err)
			continue
		}
		switch m := msg.(type) {
		case *protocol.SpecRequest:
			logger.Printf("SPEC_REQUEST requested=%s source=%s", m.RequestedID, m.SourceID)
			if m.RequestedID != "" && m.RequestedID != rig.AgentID {
				logger.Printf("answering with %s", rig.AgentID)
			}
			if err := conn.SendMessage(rig.Spec()); err != nil {
				logger.Printf("send AGENT_SPEC: %v", err)
			}
		case *protocol.AgentState:
			states++
			if *logEvery > 0 && states%uint64(*logEvery) == 1 {
				logger.Printf("AGENT_STATE #%d agent=%s bones=%d faces=%d", states, m.AgentID, len(m.Bones), len(m.FaceWeights))
			}
		default:
			logger.Printf("ignoring %s", protocol.TypeName(msg.Type()))
		}
	}
}

// streamObjects sends one world update per interval with every rig object.
func streamObjects(ctx context.Context, conn *ws.Conn, objs []RigObject, every time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := conn.SendWorldUpdate(worldUpdate(objs, now.Sub(start))); err != nil {
				logger.Printf("send world update: %v", err)
				return
			}
		}
	}
}

func worldUpdate(objs []RigObject, elapsed time.Duration) protocol.WorldObjects {
	phase := elapsed.Seconds()
	out := make(protocol.WorldObjects, 0, len(objs))
	for _, o := range objs {
		p := o.Translation
		if o.Radius > 0 {
			p[0] += o.Radius * float32(math.Cos(phase))
			p[2] += o.Radius * float32(math.Sin(phase))
		}
		t := protocol.IdentityTransform.WithTranslation(p[0], p[1], p[2])
		out = append(out, protocol.WorldObject{Name: o.Name, Record: protocol.EncodeWorldObjectRecord(t)})
	}
	return out
}
