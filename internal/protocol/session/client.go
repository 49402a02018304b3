package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/scene"
)

var (
	// ErrDesync means the consumer can no longer trust its copy of the
	// scene. The client drops the link and rejoins for a fresh snapshot.
	ErrDesync = errors.New("session: stream desynchronized")

	ErrAddressRequired = errors.New("session: address required")
)

// FrameHandler consumes the frames of one session. Both methods run on the
// client's read goroutine.
type FrameHandler interface {
	// Begin is called after every accepted handshake, before the snapshot.
	Begin(ack HelloAck) error
	// Apply receives snapshot and diff frames in sequence order. Returning an
	// error wrapping ErrDesync forces a rejoin; other errors are logged.
	Apply(f frame.Frame) error
}

type ClientConfig struct {
	Transport  string
	Address    string
	ConsumerID string
	Token      string
	Manifest   []string
	Session    Config
	// MaxAttempts bounds consecutive failed sessions. Zero retries forever.
	MaxAttempts int
}

// ClientStats counts client activity across sessions.
type ClientStats struct {
	Sessions uint64 `json:"sessions"`
	Frames   uint64 `json:"frames"`
	Desyncs  uint64 `json:"desyncs"`
}

// Client joins a producer and feeds its frames to a FrameHandler,
// reconnecting with backoff until its context ends.
type Client struct {
	cfg ClientConfig

	sessions atomic.Uint64
	frames   atomic.Uint64
	desyncs  atomic.Uint64
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if strings.TrimSpace(cfg.ConsumerID) == "" {
		cfg.ConsumerID = NewConsumerID()
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportTCP
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{cfg: cfg}, nil
}

func (c *Client) ConsumerID() string { return c.cfg.ConsumerID }

func (c *Client) Stats() ClientStats {
	return ClientStats{
		Sessions: c.sessions.Load(),
		Frames:   c.frames.Load(),
		Desyncs:  c.desyncs.Load(),
	}
}

// Run joins and rejoins until ctx is done, the producer rejects the
// consumer, or MaxAttempts consecutive sessions fail.
func (c *Client) Run(ctx context.Context, h FrameHandler) error {
	backoff := newRejoinBackoff(c.cfg.Session.Backoff)
	for {
		established, err := c.runSession(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrRejected) {
			return err
		}
		if errors.Is(err, ErrDesync) {
			c.desyncs.Add(1)
		}
		if established {
			backoff.reset()
		}
		attempt, delay := backoff.fail()
		if c.cfg.MaxAttempts > 0 && attempt >= c.cfg.MaxAttempts {
			return err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("addr", c.cfg.Address).
			Msg("session.Client.Run rejoining")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runSession reports whether the handshake succeeded along with the error
// that ended the session.
func (c *Client) runSession(ctx context.Context, h FrameHandler) (bool, error) {
	link, err := Dial(ctx, c.cfg.Transport, c.cfg.Address, c.cfg.Session)
	if err != nil {
		return false, err
	}
	defer link.Close()
	stop := context.AfterFunc(ctx, func() { _ = link.Close() })
	defer stop()

	ack, err := c.handshake(link)
	if err != nil {
		return false, err
	}
	c.sessions.Add(1)
	log.Info().
		Str("session", ack.SessionID).
		Str("consumer", c.cfg.ConsumerID).
		Str("addr", c.cfg.Address).
		Msg("session.Client joined")
	if err := h.Begin(ack); err != nil {
		return true, err
	}
	return true, c.readLoop(link, h)
}

func (c *Client) handshake(link Link) (HelloAck, error) {
	hello, err := EncodeHello(NewHello(c.cfg.ConsumerID, c.cfg.Manifest, c.cfg.Token))
	if err != nil {
		return HelloAck{}, err
	}
	if err := link.WriteFrame(hello, c.cfg.Session.WriteTimeout); err != nil {
		return HelloAck{}, err
	}
	f, err := link.ReadFrame(c.cfg.Session.HandshakeTimeout)
	if err != nil {
		return HelloAck{}, err
	}
	ack, err := DecodeHelloAck(f)
	if err != nil {
		return HelloAck{}, err
	}
	if !ack.Accepted() {
		return HelloAck{}, fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	if ack.RootID != uint32(scene.RootID) {
		return HelloAck{}, fmt.Errorf("%w: root id %d", ErrRejected, ack.RootID)
	}
	return ack, nil
}

// readLoop enforces snapshot-first delivery and contiguous diff sequence
// numbers. A snapshot carries the sequence of the last diff it includes.
func (c *Client) readLoop(link Link, h FrameHandler) error {
	var (
		last   uint64
		synced bool
	)
	for {
		f, err := link.ReadFrame(c.cfg.Session.ReadTimeout)
		if err != nil {
			return err
		}
		seq := f.Header.Sequence
		switch f.Header.MessageType {
		case frame.MessageHeartbeat:
			continue
		case frame.MessageSnapshot:
			synced = true
		case frame.MessageDiff:
			if !synced {
				return fmt.Errorf("%w: diff %d before snapshot", ErrDesync, seq)
			}
			if seq != last+1 {
				return fmt.Errorf("%w: sequence %d after %d", ErrDesync, seq, last)
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.MessageType)
		}
		last = seq
		c.frames.Add(1)

		if err := h.Apply(f); err != nil {
			if errors.Is(err, ErrDesync) {
				return err
			}
			log.Warn().
				Err(err).
				Uint64("seq", seq).
				Stringer("type", f.Header.MessageType).
				Msg("session.Client.Apply")
		}
	}
}
