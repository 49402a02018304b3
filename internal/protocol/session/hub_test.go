package session

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/scenecast/internal/auth"
	"github.com/danmuck/scenecast/internal/protocol/frame"
	"github.com/danmuck/scenecast/internal/testutil/testlog"
	"github.com/danmuck/scenecast/internal/testutil/tlstest"
)

var testManifest = []string{"basic", "text", "image"}

type recorder struct {
	begun  chan HelloAck
	frames chan frame.Frame
	apply  func(frame.Frame) error
}

func newRecorder() *recorder {
	return &recorder{
		begun:  make(chan HelloAck, 8),
		frames: make(chan frame.Frame, 64),
	}
}

func (r *recorder) Begin(ack HelloAck) error {
	r.begun <- ack
	return nil
}

func (r *recorder) Apply(f frame.Frame) error {
	r.frames <- f
	if r.apply != nil {
		return r.apply(f)
	}
	return nil
}

func (r *recorder) next(t *testing.T) frame.Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return frame.Frame{}
	}
}

func (r *recorder) waitBegin(t *testing.T) HelloAck {
	t.Helper()
	select {
	case ack := <-r.begun:
		return ack
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session")
		return HelloAck{}
	}
}

func testSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.ReadTimeout = 2 * time.Second
	cfg.Backoff = BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1, MaxDelay: 10 * time.Millisecond}
	return cfg
}

func startHub(t *testing.T, cfg HubConfig, ln net.Listener) *Hub {
	t.Helper()
	hub := NewHub(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.ServeTCP(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
		hub.Close()
	})
	return hub
}

func startTCPHub(t *testing.T, cfg HubConfig) (*Hub, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return startHub(t, cfg, ln), ln.Addr().String()
}

func runClient(t *testing.T, cfg ClientConfig, h FrameHandler) *Client {
	t.Helper()
	c, err := NewClient(cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("client did not stop")
		}
	})
	return c
}

func admitNext(t *testing.T, hub *Hub, seq uint64) *Peer {
	t.Helper()
	var peers []*Peer
	require.Eventually(t, func() bool {
		peers = append(peers, hub.TakePending()...)
		return len(peers) > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, peers, 1)
	require.NoError(t, hub.Admit(peers[0], frame.New(frame.MessageSnapshot, seq, []byte{0})))
	return peers[0]
}

func assertFrame(t *testing.T, f frame.Frame, msgType frame.MessageType, seq uint64, payload []byte) {
	t.Helper()
	assert.Equal(t, msgType, f.Header.MessageType)
	assert.Equal(t, seq, f.Header.Sequence)
	assert.Equal(t, payload, f.Payload)
}

func TestHubClientTCPDelivery(t *testing.T) {
	testlog.Start(t)
	hub, addr := startTCPHub(t, HubConfig{Session: testSessionConfig(), Manifest: testManifest})
	rec := newRecorder()
	client := runClient(t, ClientConfig{
		Address:    addr,
		ConsumerID: "wall-1",
		Manifest:   testManifest,
		Session:    testSessionConfig(),
	}, rec)

	ack := rec.waitBegin(t)
	assert.EqualValues(t, 1, ack.RootID)
	peer := admitNext(t, hub, 4)
	assert.Equal(t, ack.SessionID, peer.SessionID)

	assert.Equal(t, 1, hub.Broadcast(frame.New(frame.MessageDiff, 5, []byte{1, 0})))
	assert.Equal(t, 1, hub.Broadcast(frame.New(frame.MessageDiff, 6, []byte{2, 0})))

	assertFrame(t, rec.next(t), frame.MessageSnapshot, 4, []byte{0})
	assertFrame(t, rec.next(t), frame.MessageDiff, 5, []byte{1, 0})
	assertFrame(t, rec.next(t), frame.MessageDiff, 6, []byte{2, 0})

	// Several heartbeat intervals pass; heartbeats never reach the handler.
	select {
	case f := <-rec.frames:
		t.Fatalf("unexpected frame %s", f.Header.MessageType)
	case <-time.After(100 * time.Millisecond):
	}

	peers := hub.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "wall-1", peers[0].ConsumerID)
	assert.Equal(t, TransportTCP, peers[0].Transport)
	assert.GreaterOrEqual(t, peers[0].Frames, uint64(3))
	assert.Equal(t, uint64(1), client.Stats().Sessions)
	assert.Equal(t, uint64(3), client.Stats().Frames)
}

func TestHubRejectsJoin(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name     string
		token    string
		manifest []string
		message  string
	}{
		{name: "bad token", token: "wrong", manifest: testManifest, message: "unauthorized"},
		{name: "manifest order", token: "secret", manifest: []string{"basic", "image", "text"}, message: "manifest"},
		{name: "manifest length", token: "secret", manifest: []string{"basic"}, message: "manifest"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub, addr := startTCPHub(t, HubConfig{
				Session:   testSessionConfig(),
				Validator: auth.StaticToken{Token: "secret"},
				Manifest:  testManifest,
			})
			c, err := NewClient(ClientConfig{
				Address:  addr,
				Token:    tc.token,
				Manifest: tc.manifest,
				Session:  testSessionConfig(),
			})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = c.Run(ctx, newRecorder())
			require.ErrorIs(t, err, ErrRejected)
			assert.Contains(t, err.Error(), tc.message)
			assert.Empty(t, hub.TakePending())
			assert.Zero(t, hub.Len())
		})
	}
}

func TestClientRejoinsOnSequenceGap(t *testing.T) {
	testlog.Start(t)
	hub, addr := startTCPHub(t, HubConfig{Session: testSessionConfig(), Manifest: testManifest})
	rec := newRecorder()
	client := runClient(t, ClientConfig{Address: addr, Manifest: testManifest, Session: testSessionConfig()}, rec)

	first := rec.waitBegin(t)
	peer := admitNext(t, hub, 0)
	hub.Broadcast(frame.New(frame.MessageDiff, 1, []byte{0}))
	hub.Broadcast(frame.New(frame.MessageDiff, 3, []byte{0}))

	assertFrame(t, rec.next(t), frame.MessageSnapshot, 0, []byte{0})
	assertFrame(t, rec.next(t), frame.MessageDiff, 1, []byte{0})

	second := rec.waitBegin(t)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("stale peer was not dropped")
	}

	admitNext(t, hub, 3)
	assertFrame(t, rec.next(t), frame.MessageSnapshot, 3, []byte{0})
	assert.Equal(t, uint64(1), client.Stats().Desyncs)
	assert.Equal(t, uint64(2), client.Stats().Sessions)
}

func TestClientRejoinsWhenHandlerDesyncs(t *testing.T) {
	testlog.Start(t)
	hub, addr := startTCPHub(t, HubConfig{Session: testSessionConfig(), Manifest: testManifest})
	rec := newRecorder()
	var once sync.Once
	rec.apply = func(f frame.Frame) error {
		var err error
		if f.Header.MessageType == frame.MessageDiff {
			once.Do(func() { err = ErrDesync })
		}
		return err
	}
	runClient(t, ClientConfig{Address: addr, Manifest: testManifest, Session: testSessionConfig()}, rec)

	rec.waitBegin(t)
	admitNext(t, hub, 0)
	hub.Broadcast(frame.New(frame.MessageDiff, 1, []byte{0}))
	rec.next(t)
	rec.next(t)

	rec.waitBegin(t)
	admitNext(t, hub, 1)
	hub.Broadcast(frame.New(frame.MessageDiff, 2, []byte{0}))
	assertFrame(t, rec.next(t), frame.MessageSnapshot, 1, []byte{0})
	assertFrame(t, rec.next(t), frame.MessageDiff, 2, []byte{0})
}

func TestClientIgnoresHandlerErrors(t *testing.T) {
	testlog.Start(t)
	hub, addr := startTCPHub(t, HubConfig{Session: testSessionConfig(), Manifest: testManifest})
	rec := newRecorder()
	rec.apply = func(frame.Frame) error { return errors.New("render failed") }
	client := runClient(t, ClientConfig{Address: addr, Manifest: testManifest, Session: testSessionConfig()}, rec)

	rec.waitBegin(t)
	admitNext(t, hub, 0)
	hub.Broadcast(frame.New(frame.MessageDiff, 1, []byte{0}))
	rec.next(t)
	assertFrame(t, rec.next(t), frame.MessageDiff, 1, []byte{0})
	assert.Equal(t, uint64(1), client.Stats().Sessions)
}

// stubLink holds written frames until the test reads them.
type stubLink struct {
	in     chan frame.Frame
	out    chan frame.Frame
	closed chan struct{}
	once   sync.Once
}

func newStubLink() *stubLink {
	return &stubLink{
		in:     make(chan frame.Frame, 1),
		out:    make(chan frame.Frame, 1),
		closed: make(chan struct{}),
	}
}

func (l *stubLink) ReadFrame(time.Duration) (frame.Frame, error) {
	select {
	case f := <-l.in:
		return f, nil
	case <-l.closed:
		return frame.Frame{}, net.ErrClosed
	}
}

func (l *stubLink) WriteFrame(f frame.Frame, _ time.Duration) error {
	select {
	case l.out <- f:
		return nil
	case <-l.closed:
		return net.ErrClosed
	}
}

func (l *stubLink) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *stubLink) RemoteAddr() string { return "stub" }
func (l *stubLink) Transport() string  { return "stub" }

func TestHubDropsSlowConsumer(t *testing.T) {
	testlog.Start(t)
	cfg := testSessionConfig()
	cfg.SendQueue = 2
	cfg.HeartbeatInterval = time.Hour
	left := make(chan error, 1)
	hub := NewHub(HubConfig{
		Session:  cfg,
		Manifest: testManifest,
		OnLeave:  func(_ PeerInfo, err error) { left <- err },
	})
	defer hub.Close()

	link := newStubLink()
	hello, err := EncodeHello(NewHello("slow", testManifest, ""))
	require.NoError(t, err)
	link.in <- hello
	peer, err := hub.Accept(link)
	require.NoError(t, err)
	ack, err := DecodeHelloAck(<-link.out)
	require.NoError(t, err)
	require.True(t, ack.Accepted())

	require.Equal(t, []*Peer{peer}, hub.TakePending())
	require.NoError(t, hub.Admit(peer, frame.New(frame.MessageSnapshot, 0, nil)))
	require.Equal(t, 1, hub.Len())

	sent := 0
	for seq := uint64(1); seq <= 10; seq++ {
		sent += hub.Broadcast(frame.New(frame.MessageDiff, seq, nil))
	}
	assert.Less(t, sent, 10)
	assert.ErrorIs(t, peer.Err(), ErrSlowConsumer)
	select {
	case err := <-left:
		assert.ErrorIs(t, err, ErrSlowConsumer)
	case <-time.After(2 * time.Second):
		t.Fatalf("OnLeave not called")
	}
	assert.Zero(t, hub.Len())
	assert.Zero(t, hub.Broadcast(frame.New(frame.MessageDiff, 11, nil)))
}

func TestHubDropsPendingPeerOnDisconnect(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(HubConfig{Session: testSessionConfig(), Manifest: testManifest})
	defer hub.Close()

	link := newStubLink()
	hello, err := EncodeHello(NewHello("gone", testManifest, ""))
	require.NoError(t, err)
	link.in <- hello
	peer, err := hub.Accept(link)
	require.NoError(t, err)
	<-link.out

	require.NoError(t, link.Close())
	<-peer.Done()
	assert.Empty(t, hub.TakePending())
	assert.Error(t, hub.Admit(peer, frame.New(frame.MessageSnapshot, 0, nil)))
	assert.Zero(t, hub.Len())
}

func TestHubClientWebSocket(t *testing.T) {
	testlog.Start(t)
	hub := NewHub(HubConfig{Session: testSessionConfig(), Manifest: testManifest})
	srv := httptest.NewServer(hub.WebSocketHandler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	rec := newRecorder()
	runClient(t, ClientConfig{
		Transport: TransportWebSocket,
		Address:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Manifest:  testManifest,
		Session:   testSessionConfig(),
	}, rec)

	rec.waitBegin(t)
	admitNext(t, hub, 9)
	hub.Broadcast(frame.New(frame.MessageDiff, 10, []byte{7, 1, 0, 0, 0, 9, 0, 0}))

	assertFrame(t, rec.next(t), frame.MessageSnapshot, 9, []byte{0})
	assertFrame(t, rec.next(t), frame.MessageDiff, 10, []byte{7, 1, 0, 0, 0, 9, 0, 0})
	peers := hub.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, TransportWebSocket, peers[0].Transport)
}

func TestHubClientMutualTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "scenecast-test-ca")
	producer := ca.IssueProducer(t, "producer")
	wall := ca.IssueConsumer(t, "wall")

	serverCfg := testSessionConfig()
	serverCfg.SecurityMode = SecurityModeProduction
	serverCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: producer.CertFile, KeyFile: producer.KeyFile, CAFile: ca.CAFile()}
	ln, err := Listen("127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	hub := startHub(t, HubConfig{Session: serverCfg, Manifest: testManifest}, ln)

	clientCfg := testSessionConfig()
	clientCfg.SecurityMode = SecurityModeProduction
	clientCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: wall.CertFile, KeyFile: wall.KeyFile, CAFile: ca.CAFile()}
	rec := newRecorder()
	runClient(t, ClientConfig{Address: ln.Addr().String(), Manifest: testManifest, Session: clientCfg}, rec)

	rec.waitBegin(t)
	admitNext(t, hub, 0)
	assertFrame(t, rec.next(t), frame.MessageSnapshot, 0, []byte{0})
}

func TestListenRejectsInsecureProduction(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	_, err := Listen("127.0.0.1:0", cfg)
	assert.ErrorIs(t, err, ErrTLSRequired)

	_, err = DialTCP(context.Background(), "127.0.0.1:1", cfg)
	assert.ErrorIs(t, err, ErrTLSRequired)
	_, err = Dial(context.Background(), "carrier-pigeon", "127.0.0.1:1", DefaultConfig())
	assert.Error(t, err)
}
