package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/danmuck/scenecast/internal/protocol"
)

const (
	Magic          uint32 = 0x53434E31 // "SCN1"
	FixedHeaderLen uint16 = 32
	ChecksumLen    uint16 = 8
	HeaderLen             = FixedHeaderLen + ChecksumLen

	// FlagFullState marks a payload encoded with every dirty bit forced on.
	FlagFullState uint32 = 0x01
)

// MessageType identifies what a frame payload carries.
type MessageType uint32

const (
	MessageHello    MessageType = 1
	MessageHelloAck MessageType = 2
	MessageDiff     MessageType = 3
	MessageSnapshot MessageType = 4
	// MessageHeartbeat has no payload and keeps idle links alive.
	MessageHeartbeat MessageType = 5
)

func (m MessageType) String() string {
	switch m {
	case MessageHello:
		return "hello"
	case MessageHelloAck:
		return "hello.ack"
	case MessageDiff:
		return "diff"
	case MessageSnapshot:
		return "snapshot"
	case MessageHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("message(%d)", uint32(m))
	}
}

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenMismatch  = errors.New("frame: header_len mismatch")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrShortPayload       = errors.New("frame: short payload")
	ErrChecksumMismatch   = errors.New("frame: checksum mismatch")
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	Sequence    uint64
	MessageType MessageType
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message: one tick of scene records, or one
// handshake message.
type Frame struct {
	Header  Header
	Payload []byte
}

// New builds a frame with the header fields the writer does not fill.
func New(msgType MessageType, seq uint64, payload []byte) Frame {
	return Frame{
		Header:  Header{MessageType: msgType, Sequence: seq},
		Payload: payload,
	}
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 16 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:FixedHeaderLen])
	if err != nil {
		return Frame{}, err
	}
	if err := validateHeader(h, limits); err != nil {
		return Frame{}, err
	}
	sum := binary.BigEndian.Uint64(fixed[FixedHeaderLen:])

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Frame{}, ErrShortPayload
			}
			return Frame{}, err
		}
	}
	if xxhash.Sum64(payload) != sum {
		return Frame{}, ErrChecksumMismatch
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	b, err := Encode(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Encode renders f as one contiguous byte slice, filling magic, version,
// lengths, and checksum.
func Encode(f Frame, limits Limits) ([]byte, error) {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = protocol.Version
	h.HeaderLen = HeaderLen
	h.PayloadLen = payloadLen

	out := make([]byte, 0, int(HeaderLen)+len(f.Payload))
	out = append(out, EncodeHeader(h)...)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(f.Payload))
	out = append(out, f.Payload...)
	return out, nil
}

// Decode parses one frame from a byte slice that holds exactly one frame,
// as delivered by message-oriented links.
func Decode(b []byte, limits Limits) (Frame, error) {
	if len(b) < int(HeaderLen) {
		return Frame{}, ErrShortHeader
	}
	h, err := DecodeHeader(b[:FixedHeaderLen])
	if err != nil {
		return Frame{}, err
	}
	if err := validateHeader(h, limits); err != nil {
		return Frame{}, err
	}
	rest := b[HeaderLen:]
	if uint64(len(rest)) != h.PayloadLen {
		return Frame{}, fmt.Errorf("%w: have %d want %d", ErrShortPayload, len(rest), h.PayloadLen)
	}
	if xxhash.Sum64(rest) != binary.BigEndian.Uint64(b[FixedHeaderLen:HeaderLen]) {
		return Frame{}, ErrChecksumMismatch
	}
	payload := make([]byte, len(rest))
	copy(payload, rest)
	return Frame{Header: h, Payload: payload}, nil
}

func validateHeader(h Header, limits Limits) error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	if h.Version != protocol.Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.HeaderLen != HeaderLen {
		return fmt.Errorf("%w: %d", ErrHeaderLenMismatch, h.HeaderLen)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.Sequence)
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.MessageType))
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		Sequence:    binary.BigEndian.Uint64(b[8:16]),
		MessageType: MessageType(binary.BigEndian.Uint32(b[16:20])),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
