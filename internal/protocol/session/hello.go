package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/danmuck/scenecast/internal/protocol"
	"github.com/danmuck/scenecast/internal/protocol/frame"
)

const (
	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

var (
	ErrInvalidHello    = errors.New("session: invalid hello")
	ErrInvalidHelloAck = errors.New("session: invalid hello ack")
	ErrUnexpectedFrame = errors.New("session: unexpected frame type")
	ErrRejected        = errors.New("session: rejected by producer")
)

// Hello is the consumer->producer session-start payload.
type Hello struct {
	ConsumerID      string   `msgpack:"consumer_id"`
	ProtocolVersion uint16   `msgpack:"protocol_version"`
	Manifest        []string `msgpack:"manifest"`
	Token           string   `msgpack:"token,omitempty"`
}

func (h Hello) Validate() error {
	if strings.TrimSpace(h.ConsumerID) == "" {
		return fmt.Errorf("%w: missing consumer_id", ErrInvalidHello)
	}
	if h.ProtocolVersion == 0 {
		return fmt.Errorf("%w: missing protocol_version", ErrInvalidHello)
	}
	if len(h.Manifest) == 0 {
		return fmt.Errorf("%w: empty manifest", ErrInvalidHello)
	}
	return nil
}

// HelloAck is the producer->consumer response. On acceptance a Snapshot
// frame follows before any Diff.
type HelloAck struct {
	Status    string `msgpack:"status"`
	SessionID string `msgpack:"session_id,omitempty"`
	RootID    uint32 `msgpack:"root_id,omitempty"`
	Message   string `msgpack:"message,omitempty"`
}

func (a HelloAck) Validate() error {
	switch strings.TrimSpace(a.Status) {
	case AckStatusAccepted:
		if strings.TrimSpace(a.SessionID) == "" {
			return fmt.Errorf("%w: missing session_id", ErrInvalidHelloAck)
		}
	case AckStatusRejected:
	default:
		return fmt.Errorf("%w: invalid status %q", ErrInvalidHelloAck, a.Status)
	}
	return nil
}

func (a HelloAck) Accepted() bool { return a.Status == AckStatusAccepted }

// NewConsumerID returns a random consumer identity.
func NewConsumerID() string { return uuid.NewString() }

// NewSessionID returns a sortable producer-side session identity.
func NewSessionID() string { return ulid.Make().String() }

func NewHello(consumerID string, manifest []string, token string) Hello {
	if strings.TrimSpace(consumerID) == "" {
		consumerID = NewConsumerID()
	}
	return Hello{
		ConsumerID:      consumerID,
		ProtocolVersion: protocol.Version,
		Manifest:        manifest,
		Token:           token,
	}
}

func EncodeHello(h Hello) (frame.Frame, error) {
	if err := h.Validate(); err != nil {
		return frame.Frame{}, err
	}
	payload, err := msgpack.Marshal(h)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.New(frame.MessageHello, 0, payload), nil
}

func DecodeHello(f frame.Frame) (Hello, error) {
	if f.Header.MessageType != frame.MessageHello {
		return Hello{}, fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.MessageType)
	}
	var h Hello
	if err := msgpack.Unmarshal(f.Payload, &h); err != nil {
		return Hello{}, fmt.Errorf("%w: %v", ErrInvalidHello, err)
	}
	if err := h.Validate(); err != nil {
		return Hello{}, err
	}
	return h, nil
}

func EncodeHelloAck(a HelloAck) (frame.Frame, error) {
	if err := a.Validate(); err != nil {
		return frame.Frame{}, err
	}
	payload, err := msgpack.Marshal(a)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.New(frame.MessageHelloAck, 0, payload), nil
}

func DecodeHelloAck(f frame.Frame) (HelloAck, error) {
	if f.Header.MessageType != frame.MessageHelloAck {
		return HelloAck{}, fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.MessageType)
	}
	var a HelloAck
	if err := msgpack.Unmarshal(f.Payload, &a); err != nil {
		return HelloAck{}, fmt.Errorf("%w: %v", ErrInvalidHelloAck, err)
	}
	if err := a.Validate(); err != nil {
		return HelloAck{}, err
	}
	return a, nil
}
