package ws

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"hmibridge/internal/metrics"
	"hmibridge/internal/protocol"
)

// Handler receives the unwrapped bus deliveries of every renderer.
type Handler interface {
	HandleBinary(ctx context.Context, b []byte) error
	HandleWorldUpdate(ctx context.Context, objs protocol.WorldObjects) error
}

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
	pingEvery    = 25 * time.Second
)

type Options struct {
	Logger  *log.Logger
	Metrics *metrics.Bridge
	// ClientQueue is the outbound buffer per renderer. When full, the
	// oldest frame is dropped.
	ClientQueue int
	// OnConnect runs after a renderer is registered, before its reader
	// starts. Publishing from it reaches the new renderer.
	OnConnect func(ctx context.Context)
}

// Server is the bridge end of the message bus: renderers connect over
// websocket, their text frames are decoded as bus envelopes and handed to
// the Handler, and Publish broadcasts to all of them.
type Server struct {
	h         Handler
	log       *log.Logger
	m         *metrics.Bridge
	queue     int
	onConnect func(ctx context.Context)

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	out    chan []byte
	cancel context.CancelFunc
	remote string

	// errLog throttles per-renderer error lines.
	errLog rate.Sometimes
}

func NewServer(h Handler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	q := opts.ClientQueue
	if q <= 0 {
		q = 8
	}
	if q > 1024 {
		q = 1024
	}
	return &Server{
		h:         h,
		log:       logger,
		m:         opts.Metrics,
		queue:     q,
		onConnect: opts.OnConnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: map[*client]struct{}{},
	}
}

// Clients returns the number of connected renderers.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish implements embodiment.Publisher. With no renderer connected the
// frame is dropped.
func (s *Server) Publish(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := protocol.WrapBinary(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	for c := range s.clients {
		sendLatest(c.out, frame)
	}
	return nil
}

var ErrServerClosed = errors.New("ws: server closed")

// Close disconnects every renderer and rejects further publishes.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.clients {
		c.cancel()
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &client{
			out:    make(chan []byte, s.queue),
			cancel: cancel,
			remote: r.RemoteAddr,
			errLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
		}
		if !s.register(c) {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			return
		}
		defer s.unregister(c)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.writeLoop(ctx, cancel, conn, c.out)
		}()

		if s.onConnect != nil {
			s.onConnect(ctx)
		}

		// Reader loop.
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
					s.log.Printf("renderer %s read: %v", c.remote, err)
				}
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if typ != websocket.TextMessage {
				continue
			}
			if err := s.dispatch(ctx, msg); err != nil {
				c.errLog.Do(func() { s.log.Printf("renderer %s: %v", c.remote, err) })
			}
		}
		cancel()
		<-done
	}
}

func (s *Server) dispatch(ctx context.Context, msg []byte) error {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		s.m.Error("envelope", protocol.ErrorCode(err))
		return err
	}
	switch {
	case env.Binary != nil:
		return s.h.HandleBinary(ctx, env.Binary.Content)
	default:
		return s.h.HandleWorldUpdate(ctx, env.WorldUpdate.Objects)
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				return
			}
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()

	s.m.RendererConnected()
	s.log.Printf("renderer connected remote=%s renderers=%d", c.remote, n)
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	s.m.RendererDisconnected()
	s.log.Printf("renderer disconnected remote=%s renderers=%d", c.remote, n)
}

// sendLatest never blocks: a full channel loses its oldest frame.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
