package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

// ApplyFunc observes every applied frame on the tree-owning goroutine, for
// example to redraw.
type ApplyFunc func(tree *scene.Tree, f frame.Frame, stats scene.ReadStats)

// ClientStats is a point-in-time view of a Client.
type ClientStats struct {
	SessionID string          `json:"session_id,omitempty"`
	Sequence  uint64          `json:"sequence"`
	Frames    uint64          `json:"frames"`
	Nodes     int             `json:"nodes"`
	Orphans   int             `json:"orphans"`
	LastApply scene.ReadStats `json:"last_apply"`
	LastFrame time.Time       `json:"last_frame"`
}

type ClientOption func(*Client)

func WithApply(fn ApplyFunc) ClientOption {
	return func(c *Client) { c.onApply = fn }
}

func WithClientTracerProvider(provider trace.TracerProvider) ClientOption {
	return func(c *Client) { c.tracer = observability.NewTracer(provider) }
}

type request struct {
	begin *session.HelloAck
	frame frame.Frame
	done  chan error
}

// Client owns a consumer tree and implements session.FrameHandler. Frames
// arrive on the session goroutine and are applied on the Run goroutine.
type Client struct {
	name     string
	registry *scene.Registry
	onApply  ApplyFunc
	tracer   observability.Tracer

	tree     *scene.Tree
	requests chan request
	calls    chan call
	stopped  chan struct{}

	mu    sync.Mutex
	stats ClientStats
}

var _ session.FrameHandler = (*Client)(nil)

func NewClient(name string, reg *scene.Registry, opts ...ClientOption) (*Client, error) {
	tree, err := scene.NewTree(scene.RoleConsumer, reg)
	if err != nil {
		return nil, err
	}
	c := &Client{
		name:     name,
		registry: reg,
		tracer:   observability.NewTracer(nil),
		tree:     tree,
		requests: make(chan request),
		calls:    make(chan call),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stats.Nodes = tree.Len()
	return c, nil
}

func (c *Client) Name() string { return c.name }

// Ready reports whether the current session has applied its snapshot.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Frames > 0
}

func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run applies frames until ctx is done. When sc is non-nil it is run
// alongside, feeding this client.
func (c *Client) Run(ctx context.Context, sc *session.Client) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(gctx) })
	if sc != nil {
		g.Go(func() error { return sc.Run(gctx, c) })
	}
	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Client) loop(ctx context.Context) error {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-c.requests:
			if r.begin != nil {
				r.done <- c.begin(*r.begin)
				continue
			}
			r.done <- c.apply(ctx, r.frame)
		case cl := <-c.calls:
			cl.done <- cl.fn(c.tree)
		}
	}
}

// Begin discards the current tree. The snapshot that follows rebuilds it.
func (c *Client) Begin(ack session.HelloAck) error {
	return c.send(request{begin: &ack})
}

// Apply decodes f into the tree. Stream corruption is reported as
// session.ErrDesync so the session rejoins.
func (c *Client) Apply(f frame.Frame) error {
	return c.send(request{frame: f})
}

func (c *Client) send(r request) error {
	r.done = make(chan error, 1)
	select {
	case c.requests <- r:
	case <-c.stopped:
		return ErrStopped
	}
	return <-r.done
}

func (c *Client) begin(ack session.HelloAck) error {
	tree, err := scene.NewTree(scene.RoleConsumer, c.registry)
	if err != nil {
		return err
	}
	c.tree = tree
	c.mu.Lock()
	c.stats = ClientStats{SessionID: ack.SessionID, Nodes: tree.Len()}
	c.mu.Unlock()
	return nil
}

func (c *Client) apply(ctx context.Context, f frame.Frame) error {
	start := time.Now()
	msgType := f.Header.MessageType.String()
	_, span := c.tracer.StartFrame(ctx, c.name, observability.DirectionApply, msgType, f.Header.Sequence)
	stats, err := c.tree.ReadStream(wire.FromBytes(f.Payload))
	observability.EndFrame(span, stats.Records, stats.Bytes, err)
	observability.RecordFrame(c.name, observability.DirectionApply, msgType, stats.Records, stats.Bytes, time.Since(start))
	if stats.UnresolvedParents > 0 {
		observability.RecordReplicationError(c.name, "unresolved_parent")
	}

	c.mu.Lock()
	c.stats.Sequence = f.Header.Sequence
	c.stats.Frames++
	c.stats.Nodes = c.tree.Len()
	c.stats.Orphans = len(c.tree.Orphans())
	c.stats.LastApply = stats
	c.stats.LastFrame = time.Now().UTC()
	c.mu.Unlock()

	if c.onApply != nil {
		c.onApply(c.tree, f, stats)
	}

	switch {
	case err == nil:
		return nil
	case scene.IsDesync(err):
		observability.RecordReplicationError(c.name, "desync")
		log.Warn().Err(err).Uint64("seq", f.Header.Sequence).Msg("engine.Client.apply stream desynchronized")
		return fmt.Errorf("%w: %w", session.ErrDesync, err)
	case errors.Is(err, scene.ErrUnknownType):
		// records after the unknown one were cleared on the producer, so
		// only a fresh snapshot brings them back
		observability.RecordReplicationError(c.name, "unknown_type")
		log.Warn().Err(err).Uint64("seq", f.Header.Sequence).Msg("engine.Client.apply unknown type, resynchronizing")
		return fmt.Errorf("%w: %w", session.ErrDesync, err)
	default:
		observability.RecordReplicationError(c.name, "decode")
		return err
	}
}

// Do runs fn on the goroutine that owns the tree and returns its error.
func (c *Client) Do(ctx context.Context, fn func(*scene.Tree) error) error {
	return do(ctx, c.calls, c.stopped, fn)
}
