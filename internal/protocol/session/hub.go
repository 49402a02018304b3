package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/scenecast/internal/auth"
	"github.com/danmuck/scenecast/internal/protocol"
	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/scene"
)

var (
	ErrHubClosed    = errors.New("session: hub closed")
	ErrSlowConsumer = errors.New("session: consumer send queue full")
)

// Peer is one joined consumer as seen by the producer.
type Peer struct {
	SessionID  string
	ConsumerID string
	Transport  string
	Remote     string
	JoinedAt   time.Time

	hub    *Hub
	link   Link
	queue  chan frame.Frame
	done   chan struct{}
	once   sync.Once
	err    error
	frames atomic.Uint64
	bytes  atomic.Uint64
}

// PeerInfo is a point-in-time view of a Peer.
type PeerInfo struct {
	SessionID  string    `json:"session_id"`
	ConsumerID string    `json:"consumer_id"`
	Transport  string    `json:"transport"`
	Remote     string    `json:"remote"`
	JoinedAt   time.Time `json:"joined_at"`
	Frames     uint64    `json:"frames"`
	Bytes      uint64    `json:"bytes"`
	Queued     int       `json:"queued"`
}

func (p *Peer) Info() PeerInfo {
	return PeerInfo{
		SessionID:  p.SessionID,
		ConsumerID: p.ConsumerID,
		Transport:  p.Transport,
		Remote:     p.Remote,
		JoinedAt:   p.JoinedAt,
		Frames:     p.frames.Load(),
		Bytes:      p.bytes.Load(),
		Queued:     len(p.queue),
	}
}

// Done is closed once the peer has been dropped.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err returns why the peer was dropped, after Done is closed.
func (p *Peer) Err() error {
	<-p.done
	return p.err
}

func (p *Peer) close(err error) {
	p.once.Do(func() {
		p.err = err
		_ = p.link.Close()
		close(p.done)
		p.hub.remove(p, err)
	})
}

// enqueue never blocks. A full queue drops the peer.
func (p *Peer) enqueue(f frame.Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.queue <- f:
		return true
	default:
		p.close(ErrSlowConsumer)
		return false
	}
}

// HubConfig configures a Hub.
type HubConfig struct {
	Session   Config
	Validator auth.Validator
	// Manifest is the producer's type table. Joiners must present an
	// identical one.
	Manifest []string
	// OnJoin and OnLeave observe membership changes. They run on hub
	// goroutines and must not block.
	OnJoin  func(PeerInfo)
	OnLeave func(PeerInfo, error)
}

// Hub accepts consumer links and fans frames out to admitted peers.
//
// Joining is two-phase: Accept performs the handshake and parks the peer;
// the producer's owning goroutine collects parked peers with TakePending,
// encodes a snapshot between ticks, and calls Admit. Frames broadcast
// after Admit are queued behind that snapshot.
type Hub struct {
	cfg HubConfig

	mu      sync.Mutex
	pending []*Peer
	peers   map[string]*Peer
	closed  bool

	notify chan struct{}
	wg     sync.WaitGroup
}

func NewHub(cfg HubConfig) *Hub {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Validator == nil {
		cfg.Validator = auth.AllowAll{}
	}
	return &Hub{
		cfg:    cfg,
		peers:  make(map[string]*Peer),
		notify: make(chan struct{}, 1),
	}
}

// Accept runs the handshake on link. On success the peer is parked until
// Admit. On failure a rejection is sent when possible and link is closed.
func (h *Hub) Accept(link Link) (*Peer, error) {
	peer, err := h.handshake(link)
	if err != nil {
		log.Warn().Err(err).Str("remote", link.RemoteAddr()).Msg("session.Hub.Accept handshake failed")
		_ = link.Close()
		return nil, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = link.Close()
		return nil, ErrHubClosed
	}
	h.pending = append(h.pending, peer)
	h.wg.Add(1)
	h.mu.Unlock()

	go h.readLoop(peer)
	select {
	case h.notify <- struct{}{}:
	default:
	}
	log.Info().
		Str("session", peer.SessionID).
		Str("consumer", peer.ConsumerID).
		Str("transport", peer.Transport).
		Str("remote", peer.Remote).
		Msg("session.Hub.Accept consumer parked")
	return peer, nil
}

func (h *Hub) handshake(link Link) (*Peer, error) {
	f, err := link.ReadFrame(h.cfg.Session.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	hello, err := DecodeHello(f)
	if err != nil {
		h.reject(link, err.Error())
		return nil, err
	}
	if hello.ProtocolVersion != protocol.Version {
		err := fmt.Errorf("%w: protocol version %d, want %d", ErrInvalidHello, hello.ProtocolVersion, protocol.Version)
		h.reject(link, err.Error())
		return nil, err
	}
	if err := h.cfg.Validator.Validate(hello.Token); err != nil {
		h.reject(link, auth.ErrUnauthorized.Error())
		return nil, err
	}
	if at := scene.ManifestMismatch(h.cfg.Manifest, hello.Manifest); at >= 0 {
		err := fmt.Errorf("%w: type manifest differs at tag %d", ErrInvalidHello, at+1)
		h.reject(link, err.Error())
		return nil, err
	}

	peer := &Peer{
		SessionID:  NewSessionID(),
		ConsumerID: hello.ConsumerID,
		Transport:  link.Transport(),
		Remote:     link.RemoteAddr(),
		JoinedAt:   time.Now().UTC(),
		hub:        h,
		link:       link,
		queue:      make(chan frame.Frame, h.cfg.Session.SendQueue),
		done:       make(chan struct{}),
	}
	ack, err := EncodeHelloAck(HelloAck{
		Status:    AckStatusAccepted,
		SessionID: peer.SessionID,
		RootID:    uint32(scene.RootID),
	})
	if err != nil {
		return nil, err
	}
	if err := link.WriteFrame(ack, h.cfg.Session.WriteTimeout); err != nil {
		return nil, err
	}
	return peer, nil
}

func (h *Hub) reject(link Link, message string) {
	ack, err := EncodeHelloAck(HelloAck{Status: AckStatusRejected, Message: message})
	if err != nil {
		return
	}
	_ = link.WriteFrame(ack, h.cfg.Session.WriteTimeout)
}

// Joining is signalled whenever a peer is parked.
func (h *Hub) Joining() <-chan struct{} { return h.notify }

// TakePending returns and clears the parked peers that are still connected.
func (h *Hub) TakePending() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Peer, 0, len(h.pending))
	for _, p := range h.pending {
		select {
		case <-p.done:
		default:
			out = append(out, p)
		}
	}
	h.pending = nil
	return out
}

// Admit queues snapshot to p and adds it to the broadcast set. Admit and
// Broadcast must be called from the same goroutine.
func (h *Hub) Admit(p *Peer, snapshot frame.Frame) error {
	if !p.enqueue(snapshot) {
		return p.Err()
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		p.close(ErrHubClosed)
		return ErrHubClosed
	}
	select {
	case <-p.done:
		h.mu.Unlock()
		return p.err
	default:
	}
	h.peers[p.SessionID] = p
	h.wg.Add(1)
	h.mu.Unlock()

	go h.writeLoop(p)
	if h.cfg.OnJoin != nil {
		h.cfg.OnJoin(p.Info())
	}
	return nil
}

// Broadcast queues f to every admitted peer and returns how many took it.
func (h *Hub) Broadcast(f frame.Frame) int {
	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	sent := 0
	for _, p := range peers {
		if p.enqueue(f) {
			sent++
		}
	}
	return sent
}

// Peers lists admitted peers by join time.
func (h *Hub) Peers() []PeerInfo {
	h.mu.Lock()
	out := make([]PeerInfo, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.Info())
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Hub) remove(p *Peer, err error) {
	h.mu.Lock()
	_, admitted := h.peers[p.SessionID]
	delete(h.peers, p.SessionID)
	h.mu.Unlock()
	if !admitted {
		return
	}
	log.Info().
		Err(err).
		Str("session", p.SessionID).
		Str("consumer", p.ConsumerID).
		Msg("session.Hub consumer left")
	if h.cfg.OnLeave != nil {
		h.cfg.OnLeave(p.Info(), err)
	}
}

func (h *Hub) writeLoop(p *Peer) {
	defer h.wg.Done()
	heartbeat := time.NewTicker(h.cfg.Session.HeartbeatInterval)
	defer heartbeat.Stop()
	idle := true

	for {
		select {
		case <-p.done:
			return
		case f := <-p.queue:
			if err := p.link.WriteFrame(f, h.cfg.Session.WriteTimeout); err != nil {
				p.close(err)
				return
			}
			p.frames.Add(1)
			p.bytes.Add(uint64(frame.HeaderLen) + uint64(len(f.Payload)))
			idle = false
		case <-heartbeat.C:
			if !idle {
				idle = true
				continue
			}
			if err := p.link.WriteFrame(frame.New(frame.MessageHeartbeat, 0, nil), h.cfg.Session.WriteTimeout); err != nil {
				p.close(err)
				return
			}
		}
	}
}

// readLoop only detects disconnects. Consumers send nothing after Hello
// except heartbeats.
func (h *Hub) readLoop(p *Peer) {
	defer h.wg.Done()
	for {
		f, err := p.link.ReadFrame(0)
		if err != nil {
			p.close(err)
			return
		}
		if f.Header.MessageType != frame.MessageHeartbeat {
			log.Warn().
				Str("session", p.SessionID).
				Stringer("type", f.Header.MessageType).
				Msg("session.Hub unexpected consumer frame")
		}
	}
}

// ServeTCP accepts consumer links on ln until ctx is done.
func (h *Hub) ServeTCP(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			_, _ = h.Accept(NewTCPLink(conn, h.cfg.Session.Limits))
		}()
	}
}

// WebSocketHandler upgrades requests and accepts them as consumer links.
func (h *Hub) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.cfg.Session.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("session.Hub websocket upgrade failed")
			return
		}
		_, _ = h.Accept(NewWebSocketLink(conn, h.cfg.Session.Limits))
	})
}

// Close drops every peer and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := append([]*Peer{}, h.pending...)
	for _, p := range h.peers {
		all = append(all, p)
	}
	h.pending = nil
	h.mu.Unlock()

	for _, p := range all {
		p.close(ErrHubClosed)
	}
	h.wg.Wait()
}
