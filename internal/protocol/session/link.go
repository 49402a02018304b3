package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/scenecast/internal/protocol/frame"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
)

// Link carries whole frames between one producer and one consumer. A Link
// supports one concurrent reader and one concurrent writer.
type Link interface {
	ReadFrame(timeout time.Duration) (frame.Frame, error)
	WriteFrame(f frame.Frame, timeout time.Duration) error
	Close() error
	RemoteAddr() string
	Transport() string
}

// tcpLink frames a stream connection.
type tcpLink struct {
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits
	once   sync.Once
}

func NewTCPLink(conn net.Conn, limits frame.Limits) Link {
	return &tcpLink{conn: conn, reader: bufio.NewReader(conn), limits: limits}
}

func (l *tcpLink) ReadFrame(timeout time.Duration) (frame.Frame, error) {
	if timeout > 0 {
		_ = l.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	return frame.ReadFrame(l.reader, l.limits)
}

func (l *tcpLink) WriteFrame(f frame.Frame, timeout time.Duration) error {
	if timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return frame.WriteFrame(l.conn, f, l.limits)
}

func (l *tcpLink) Close() error {
	var err error
	l.once.Do(func() { err = l.conn.Close() })
	return err
}

func (l *tcpLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }
func (l *tcpLink) Transport() string  { return TransportTCP }

// wsLink sends one frame per binary WebSocket message.
type wsLink struct {
	conn   *websocket.Conn
	limits frame.Limits
	once   sync.Once
}

func NewWebSocketLink(conn *websocket.Conn, limits frame.Limits) Link {
	if limits.MaxPayloadBytes > 0 {
		conn.SetReadLimit(int64(limits.MaxPayloadBytes) + int64(frame.HeaderLen))
	}
	return &wsLink{conn: conn, limits: limits}
}

func (l *wsLink) ReadFrame(timeout time.Duration) (frame.Frame, error) {
	for {
		if timeout > 0 {
			_ = l.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		messageType, message, err := l.conn.ReadMessage()
		if err != nil {
			return frame.Frame{}, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return frame.Decode(message, l.limits)
	}
}

func (l *wsLink) WriteFrame(f frame.Frame, timeout time.Duration) error {
	b, err := frame.Encode(f, l.limits)
	if err != nil {
		return err
	}
	if timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (l *wsLink) Close() error {
	var err error
	l.once.Do(func() {
		_ = l.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = l.conn.Close()
	})
	return err
}

func (l *wsLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }
func (l *wsLink) Transport() string  { return TransportWebSocket }

// Listen opens a TCP listener, wrapped in TLS when cfg enables it.
func Listen(addr string, cfg Config) (net.Listener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return ln, nil
	}
	tlsCfg, err := cfg.ServerTLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tlsCfg), nil
}

// DialTCP connects to a producer's TCP endpoint.
func DialTCP(ctx context.Context, addr string, cfg Config) (Link, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return NewTCPLink(rawConn, cfg.Limits), nil
	}

	tlsCfg, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return NewTCPLink(conn, cfg.Limits), nil
}

// DialWebSocket connects to a producer's WebSocket endpoint. wss URLs use
// the TLS settings in cfg.
func DialWebSocket(ctx context.Context, rawURL string, cfg Config) (Link, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if u.Scheme == "wss" {
		host := u.Host
		if u.Port() == "" {
			host = net.JoinHostPort(u.Hostname(), "443")
		}
		tlsCfg, err := cfg.ClientTLSConfig(host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketLink(conn, cfg.Limits), nil
}

// Dial picks the transport by name.
func Dial(ctx context.Context, transport, addr string, cfg Config) (Link, error) {
	switch transport {
	case TransportWebSocket:
		return DialWebSocket(ctx, addr, cfg)
	case TransportTCP, "":
		return DialTCP(ctx, addr, cfg)
	default:
		return nil, errors.New("session: unknown transport " + transport)
	}
}
