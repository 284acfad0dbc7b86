package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	DefaultPort      = 10000
	DefaultChunkSize = 1000
	MaxRetries       = 5
	ChecksumSize     = 32
	MaxDatagramSize  = 65507
)

// Kind is the first header field of every datagram.
type Kind uint32

const (
	KindAck        Kind = 0
	KindUnreliable Kind = 1
	KindReliable   Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindUnreliable:
		return "unreliable"
	case KindReliable:
		return "reliable"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

func (k Kind) Valid() bool {
	return k <= KindReliable
}

const (
	// legacy acks stop after the message id and acknowledge chunk 0
	AckHeaderSize      = 8
	AckChunkHeaderSize = 12
	DataHeaderSize     = 4 + 4 + ChecksumSize + 4 + 4
)

const (
	offsetKind       = 0
	offsetMessageID  = 4
	offsetChecksum   = 8
	offsetChunkCount = offsetChecksum + ChecksumSize
	offsetChunkIndex = offsetChunkCount + 4
	offsetAckChunk   = 8
)

var (
	ErrShortDatagram = errors.New("datagram too short")
	ErrUnknownKind   = errors.New("unknown datagram kind")
	ErrBadChunkIndex = errors.New("chunk index out of range")
)

type Header struct {
	Kind       Kind
	MessageID  uint32
	Checksum   [ChecksumSize]byte
	ChunkCount uint32
	ChunkIndex uint32
}

type Datagram struct {
	Header
	Payload []byte
}

func (d Datagram) IsAck() bool {
	return d.Kind == KindAck
}

// AppendData appends a data datagram (header followed by payload) to dst.
func AppendData(dst []byte, h Header, payload []byte) []byte {
	var buf [DataHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[offsetKind:], uint32(h.Kind))
	binary.LittleEndian.PutUint32(buf[offsetMessageID:], h.MessageID)
	copy(buf[offsetChecksum:offsetChunkCount], h.Checksum[:])
	binary.LittleEndian.PutUint32(buf[offsetChunkCount:], h.ChunkCount)
	binary.LittleEndian.PutUint32(buf[offsetChunkIndex:], h.ChunkIndex)

	dst = append(dst, buf[:]...)
	return append(dst, payload...)
}

// AppendAck appends an ack for one chunk of messageID to dst.
func AppendAck(dst []byte, messageID, chunkIndex uint32) []byte {
	var buf [AckChunkHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[offsetKind:], uint32(KindAck))
	binary.LittleEndian.PutUint32(buf[offsetMessageID:], messageID)
	binary.LittleEndian.PutUint32(buf[offsetAckChunk:], chunkIndex)
	return append(dst, buf[:]...)
}

// Parse decodes a raw datagram. The returned payload is a copy, so data may be reused.
func Parse(data []byte) (Datagram, error) {
	var d Datagram

	if len(data) < AckHeaderSize {
		return d, ErrShortDatagram
	}

	d.Kind = Kind(binary.LittleEndian.Uint32(data[offsetKind:]))
	d.MessageID = binary.LittleEndian.Uint32(data[offsetMessageID:])

	if !d.Kind.Valid() {
		return d, fmt.Errorf("%w: %d", ErrUnknownKind, uint32(d.Kind))
	}

	if d.Kind == KindAck {
		if len(data) >= AckChunkHeaderSize {
			d.ChunkIndex = binary.LittleEndian.Uint32(data[offsetAckChunk:])
		}
		return d, nil
	}

	if len(data) < DataHeaderSize {
		return d, ErrShortDatagram
	}

	copy(d.Checksum[:], data[offsetChecksum:offsetChunkCount])
	d.ChunkCount = binary.LittleEndian.Uint32(data[offsetChunkCount:])
	d.ChunkIndex = binary.LittleEndian.Uint32(data[offsetChunkIndex:])

	if d.ChunkIndex >= d.ChunkCount {
		return d, fmt.Errorf("%w: %d of %d", ErrBadChunkIndex, d.ChunkIndex, d.ChunkCount)
	}

	d.Payload = make([]byte, len(data)-DataHeaderSize)
	copy(d.Payload, data[DataHeaderSize:])

	return d, nil
}

// Split cuts payload into pieces of at most size bytes. An empty payload yields one empty piece.
func Split(payload []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := make([][]byte, 0, len(payload)/size+1)
	for len(payload) > size {
		chunks = append(chunks, payload[:size])
		payload = payload[size:]
	}
	return append(chunks, payload)
}

type Vector2f struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}
