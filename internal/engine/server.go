package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/scenecast/internal/observability"
	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/protocol/session"
	"github.com/danmuck/scenecast/internal/protocol/wire"
	"github.com/danmuck/scenecast/internal/scene"
)

const DefaultTickInterval = time.Second / 30

var ErrStopped = errors.New("engine: not running")

// Tick describes one producer step.
type Tick struct {
	Count uint64
	Now   time.Time
	Delta time.Duration
}

// UpdateFunc mutates the tree once per tick, before the diff is encoded.
type UpdateFunc func(tree *scene.Tree, tick Tick) error

// ServerStats is a point-in-time view of a Server.
type ServerStats struct {
	Ticks     uint64             `json:"ticks"`
	Sequence  uint64             `json:"sequence"`
	Nodes     int                `json:"nodes"`
	Consumers int                `json:"consumers"`
	LastDiff  scene.WriteStats   `json:"last_diff"`
	LastTick  time.Time          `json:"last_tick"`
	Peers     []session.PeerInfo `json:"peers,omitempty"`
}

type ServerOption func(*Server)

func WithUpdate(fn UpdateFunc) ServerOption {
	return func(s *Server) { s.update = fn }
}

func WithTickInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithListener serves TCP consumer links on ln while the server runs.
func WithListener(ln net.Listener) ServerOption {
	return func(s *Server) { s.listeners = append(s.listeners, ln) }
}

// WithHTTPServer runs srv on ln alongside the tick loop and shuts it down
// with the server.
func WithHTTPServer(srv *http.Server, ln net.Listener) ServerOption {
	return func(s *Server) { s.http = append(s.http, httpServer{srv: srv, ln: ln}) }
}

func WithTracerProvider(provider trace.TracerProvider) ServerOption {
	return func(s *Server) { s.tracer = observability.NewTracer(provider) }
}

type httpServer struct {
	srv *http.Server
	ln  net.Listener
}

type call struct {
	fn   func(*scene.Tree) error
	done chan error
}

// Server owns a producer tree. Every tree access happens on the Run
// goroutine: the update callback, diff encoding, joiner snapshots, and
// functions passed to Do.
type Server struct {
	name     string
	tree     *scene.Tree
	hub      *session.Hub
	interval time.Duration
	update   UpdateFunc
	tracer   observability.Tracer

	listeners []net.Listener
	http      []httpServer

	calls   chan call
	stopped chan struct{}
	running atomic.Bool
	buf     *wire.Buffer

	mu       sync.Mutex
	ticks    uint64
	seq      uint64
	lastDiff scene.WriteStats
	lastTick time.Time
	nodes    int
}

func NewServer(name string, tree *scene.Tree, hub *session.Hub, opts ...ServerOption) (*Server, error) {
	if tree == nil || hub == nil {
		return nil, errors.New("engine: server requires a tree and a hub")
	}
	if tree.Role() != scene.RoleProducer {
		return nil, fmt.Errorf("%w: server needs a producer tree", scene.ErrInvalidRole)
	}
	s := &Server{
		name:     name,
		tree:     tree,
		hub:      hub,
		interval: DefaultTickInterval,
		tracer:   observability.NewTracer(nil),
		calls:    make(chan call),
		stopped:  make(chan struct{}),
		buf:      wire.NewBuffer(4096),
		nodes:    tree.Len(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Server) Name() string       { return s.name }
func (s *Server) Hub() *session.Hub  { return s.hub }
func (s *Server) Ready() bool        { return s.running.Load() }
func (s *Server) Sequence() uint64   { return s.snapshotStats().Sequence }
func (s *Server) Stats() ServerStats { return s.snapshotStats() }

func (s *Server) snapshotStats() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerStats{
		Ticks:     s.ticks,
		Sequence:  s.seq,
		Nodes:     s.nodes,
		Consumers: s.hub.Len(),
		LastDiff:  s.lastDiff,
		LastTick:  s.lastTick,
		Peers:     s.hub.Peers(),
	}
}

// Run drives ticks and serves the configured listeners until ctx is done.
// A Server runs once.
func (s *Server) Run(ctx context.Context) error {
	defer s.hub.Close()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(gctx) })
	for _, ln := range s.listeners {
		g.Go(func() error { return s.hub.ServeTCP(gctx, ln) })
	}
	for _, h := range s.http {
		g.Go(func() error {
			if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return h.srv.Shutdown(shutdownCtx)
		})
	}
	log.Info().
		Str("node", s.name).
		Dur("tick", s.interval).
		Int("listeners", len(s.listeners)+len(s.http)).
		Msg("engine.Server.Run started")
	return g.Wait()
}

func (s *Server) loop(ctx context.Context) error {
	s.running.Store(true)
	defer close(s.stopped)
	defer s.running.Store(false)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Step(ctx, now.Sub(last))
			last = now
		case <-s.hub.Joining():
			s.flush(ctx)
		case c := <-s.calls:
			c.done <- c.fn(s.tree)
		}
	}
}

// Step runs the update callback, then flushes. Run calls it on every tick;
// tests call it directly when no Run loop owns the tree.
func (s *Server) Step(ctx context.Context, delta time.Duration) {
	s.mu.Lock()
	s.ticks++
	tick := Tick{Count: s.ticks, Now: time.Now(), Delta: delta}
	s.lastTick = tick.Now
	s.mu.Unlock()

	if s.update != nil {
		if err := s.update(s.tree, tick); err != nil {
			observability.RecordReplicationError(s.name, "update")
			log.Error().Err(err).Uint64("tick", tick.Count).Msg("engine.Server.Step update failed")
		}
	}
	s.flush(ctx)
}

// flush broadcasts the pending diff, then admits joiners with a snapshot of
// the post-diff state, so a joiner's first diff is the next one.
func (s *Server) flush(ctx context.Context) {
	s.buf.Reset()
	start := time.Now()
	s.mu.Lock()
	seq := s.seq + 1
	s.mu.Unlock()

	_, span := s.tracer.StartFrame(ctx, s.name, observability.DirectionEncode, frame.MessageDiff.String(), seq)
	stats, err := s.tree.WriteDiff(s.buf)
	observability.EndFrame(span, stats.Records, stats.Bytes, err)
	if err != nil {
		observability.RecordReplicationError(s.name, "encode")
		log.Error().Err(err).Msg("engine.Server.flush diff failed")
		return
	}

	if stats.Failed > 0 {
		observability.RecordReplicationError(s.name, "encode")
		log.Warn().Int("failed", stats.Failed).Uint64("seq", seq).Msg("engine.Server.flush records held back")
	}

	s.mu.Lock()
	s.lastDiff = stats
	s.nodes = s.tree.Len()
	if stats.Records > 0 {
		s.seq = seq
	}
	current := s.seq
	s.mu.Unlock()

	if stats.Records > 0 {
		s.hub.Broadcast(frame.New(frame.MessageDiff, seq, s.buf.Clone()))
		observability.RecordFrame(s.name, observability.DirectionEncode, frame.MessageDiff.String(), stats.Records, stats.Bytes, time.Since(start))
	}

	if pending := s.hub.TakePending(); len(pending) > 0 {
		s.admit(ctx, pending, current)
	}
	observability.SetConsumers(s.name, s.hub.Len())
}

func (s *Server) admit(ctx context.Context, pending []*session.Peer, seq uint64) {
	start := time.Now()
	buf := wire.NewBuffer(s.buf.Len() + 256)
	_, span := s.tracer.StartFrame(ctx, s.name, observability.DirectionEncode, frame.MessageSnapshot.String(), seq)
	stats, err := s.tree.WriteSnapshot(buf)
	observability.EndFrame(span, stats.Records, stats.Bytes, err)
	if err != nil {
		observability.RecordReplicationError(s.name, "snapshot")
		log.Error().Err(err).Msg("engine.Server.admit snapshot failed")
		return
	}

	snapshot := frame.New(frame.MessageSnapshot, seq, buf.Bytes())
	snapshot.Header.Flags = frame.FlagFullState
	for _, p := range pending {
		if err := s.hub.Admit(p, snapshot); err != nil {
			log.Warn().Err(err).Str("session", p.SessionID).Msg("engine.Server.admit dropped joiner")
			continue
		}
		observability.RecordFrame(s.name, observability.DirectionEncode, frame.MessageSnapshot.String(), stats.Records, stats.Bytes, time.Since(start))
		log.Info().
			Str("session", p.SessionID).
			Str("consumer", p.ConsumerID).
			Uint64("seq", seq).
			Int("records", stats.Records).
			Msg("engine.Server.admit consumer synced")
	}
}

// Do runs fn on the goroutine that owns the tree and returns its error.
func (s *Server) Do(ctx context.Context, fn func(*scene.Tree) error) error {
	return do(ctx, s.calls, s.stopped, fn)
}

func do(ctx context.Context, calls chan<- call, stopped <-chan struct{}, fn func(*scene.Tree) error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case calls <- c:
	case <-stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
