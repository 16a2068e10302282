package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"hmibridge/internal/metrics"
	persistlog "hmibridge/internal/persistence/log"
	"hmibridge/internal/protocol"
	"hmibridge/internal/sim/embodiment"
	"hmibridge/internal/sim/objects"
	"hmibridge/internal/sim/tuning"
	"hmibridge/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		agentID    = flag.String("agent", "", "agent id written into state frames (default: id from the applied spec)")
		loaderID   = flag.String("loader", "hmibridge", "loader id sent with spec requests")
		requestID  = flag.String("request", "", "agent id to request from each new renderer while unconfigured (default: -agent)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bridge] ", log.LstdFlags|log.Lmicroseconds)

	// Runs after every other deferred close.
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune, _ = tuning.Load("")
	}
	_ = os.MkdirAll(*dataDir, 0o755)

	ctx, cancel := signalContext()
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(metrics.WithRegistry(reg))

	registry := objects.NewManager()

	// Optional: read-model index (never blocks ticks).
	idx, err := openIndex(*dataDir, tune.IndexDB, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		seedObjects(ctx, idx, registry, logger)
	}

	var recorders []embodiment.FrameRecorder
	if tune.FrameLog.Enabled {
		fl := persistlog.NewFrameLogger(*dataDir)
		fl.IncludeState = tune.FrameLog.IncludeState
		defer fl.Close()
		recorders = append(recorders, fl)
		logger.Printf("frame log: dir=%s include_state=%v", persistlog.FrameDir(*dataDir), fl.IncludeState)
	}

	// The ws server needs the embodiment as its handler and the embodiment
	// needs the server as its publisher.
	var emb *embodiment.Embodiment
	wantAgent := strings.TrimSpace(*requestID)
	if wantAgent == "" {
		wantAgent = *agentID
	}
	srv := ws.NewServer(handlerFunc(func() ws.Handler { return emb }), ws.Options{
		Logger:      logger,
		Metrics:     m,
		ClientQueue: tune.ClientQueue,
		OnConnect: func(ctx context.Context) {
			if emb.Configured() {
				return
			}
			if err := emb.RequestAgent(ctx, wantAgent, emb.ID()); err != nil {
				logger.Printf("%v", err)
			}
		},
	})

	deps := embodiment.Deps{
		Registry:  registry,
		Publisher: srv,
		Logger:    logger,
		Metrics:   m,
		Recorders: recorders,
	}
	if idx != nil {
		deps.Index = idx
		deps.Recorders = append(deps.Recorders, idx)
	}
	emb, err = embodiment.New(embodiment.Config{
		AgentID:       *agentID,
		LoaderID:      *loaderID,
		MaxFrameBytes: tune.MaxFrameBytes,
		TickRateHz:    tune.TickRateHz,
	}, deps)
	if err != nil {
		logger.Fatalf("embodiment: %v", err)
	}
	defer emb.Close()

	ticking := startTicking(ctx, emb, logger)

	httpSrv := &http.Server{
		Addr: *addr,
		Handler: newRouter(routes{
			emb:       emb,
			objects:   registry,
			ws:        srv.Handler(),
			gatherer:  reg,
			renderers: srv.Clients,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s tick_rate_hz=%d max_frame_bytes=%d loader=%s session=%s", *addr, tune.TickRateHz, tune.MaxFrameBytes, *loaderID, emb.Session())
	err = httpSrv.ListenAndServe()
	// The recorders and the index close on return; no tick may still be
	// writing to them.
	cancel()
	<-ticking
	if err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		exitCode = 1
	}
}

// startTicking runs emb until ctx is done. The returned channel closes
// once the last tick has finished.
func startTicking(ctx context.Context, emb *embodiment.Embodiment, logger *log.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := emb.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("embodiment stopped: %v", err)
		}
	}()
	return done
}

// handlerFunc resolves the ws handler lazily so the server can be built
// before the embodiment it feeds.
type handlerFunc func() ws.Handler

func (f handlerFunc) HandleBinary(ctx context.Context, b []byte) error {
	return f().HandleBinary(ctx, b)
}

func (f handlerFunc) HandleWorldUpdate(ctx context.Context, objs protocol.WorldObjects) error {
	return f().HandleWorldUpdate(ctx, objs)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
