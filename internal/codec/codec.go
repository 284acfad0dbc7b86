// Package codec maps application messages to and from the JSON text carried in
// transport payloads. It holds no state.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/siohaza/tapserv/internal/protocol"
)

type MessageType int

const (
	MessageInitial MessageType = iota
	MessageUpdate
	MessagePickedChest
	MessageDisconnect
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrEmpty       = errors.New("empty message")
)

func (m MessageType) String() string {
	switch m {
	case MessageInitial:
		return "initial"
	case MessageUpdate:
		return "update"
	case MessagePickedChest:
		return "picked_chest"
	case MessageDisconnect:
		return "disconnect"
	default:
		return "unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

func ParseMessageType(s string) (MessageType, error) {
	switch s {
	case "initial":
		return MessageInitial, nil
	case "update":
		return MessageUpdate, nil
	case "picked_chest":
		return MessagePickedChest, nil
	case "disconnect":
		return MessageDisconnect, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

func (m MessageType) MarshalText() ([]byte, error) {
	if m < MessageInitial || m > MessageDisconnect {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(m))
	}
	return []byte(m.String()), nil
}

func (m *MessageType) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageType(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// TimeLayout is the text form of client and server timestamps on the wire.
const TimeLayout = "2006/01/0215:04:05.000000"

// the parser accepts any number of fractional digits after the seconds field
const timeParseLayout = "2006/01/0215:04:05"

// Timestamp accepts either TimeLayout text or a number of Unix seconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(TimeLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Timestamp{}
		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*t = Timestamp{}
			return nil
		}
		parsed, err := time.ParseInLocation(timeParseLayout, s, time.Local)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", b, err)
	}
	whole := int64(secs)
	t.Time = time.Unix(whole, int64((secs-float64(whole))*1e9))
	return nil
}

// Message is any decoded client request.
type Message interface {
	Type() MessageType
}

type InitialRequest struct {
	PlayerName string `json:"playerName"`
}

type UpdateRequest struct {
	PlayerID        int               `json:"playerId"`
	Position        protocol.Vector2f `json:"position"`
	Velocity        protocol.Vector2f `json:"velocity"`
	ClientTimeStamp Timestamp         `json:"clientTimeStamp"`
	MapVersion      int               `json:"mapVersion"`
}

type PickedChestRequest struct {
	PlayerID int `json:"playerId"`
	ChestID  int `json:"chestId"`
}

type DisconnectRequest struct {
	PlayerID int `json:"playerId"`
}

func (InitialRequest) Type() MessageType     { return MessageInitial }
func (UpdateRequest) Type() MessageType      { return MessageUpdate }
func (PickedChestRequest) Type() MessageType { return MessagePickedChest }
func (DisconnectRequest) Type() MessageType  { return MessageDisconnect }

type InitialResponse struct {
	Type       MessageType   `json:"type"`
	Map        [][]int       `json:"map"`
	Width      int           `json:"width"`
	Height     int           `json:"height"`
	MapVersion int           `json:"map_version"`
	Spawn      protocol.Cell `json:"spawn"`
	PlayerID   int           `json:"playerId"`
}

type UpdateResponse struct {
	Type  MessageType `json:"type"`
	State State       `json:"state"`
}

type State struct {
	Players    map[int]PlayerState `json:"players"`
	Bombs      []BombState         `json:"bombs"`
	Chests     []ChestState        `json:"chests"`
	MapChanges [][]int             `json:"map_changes"`
	Timer      int                 `json:"timer"`
}

type PlayerState struct {
	PlayerName      string            `json:"playerName"`
	Score           int               `json:"score"`
	Position        protocol.Vector2f `json:"position"`
	Velocity        protocol.Vector2f `json:"velocity"`
	Health          int               `json:"health"`
	ClientTimeStamp *Timestamp        `json:"clientTimeStamp,omitempty"`
	ServerTimeStamp Timestamp         `json:"serverTimeStamp"`
}

type BombState struct {
	ID    int     `json:"id"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Timer float64 `json:"timer"`
}

type ChestState struct {
	ID int `json:"id"`
	X  int `json:"x"`
	Y  int `json:"y"`
}

type DisconnectResponse struct {
	Type     MessageType `json:"type"`
	PlayerID int         `json:"playerId"`
}

type envelope struct {
	Type *MessageType `json:"type"`
}

// Decode reads one complete message.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Type == nil {
		return nil, fmt.Errorf("%w: missing type field", ErrUnknownType)
	}

	var msg Message
	var err error
	switch *env.Type {
	case MessageInitial:
		var m InitialRequest
		err = json.Unmarshal(data, &m)
		msg = m
	case MessageUpdate:
		var m UpdateRequest
		err = json.Unmarshal(data, &m)
		msg = m
	case MessagePickedChest:
		var m PickedChestRequest
		err = json.Unmarshal(data, &m)
		msg = m
	case MessageDisconnect:
		var m DisconnectRequest
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(*env.Type))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", *env.Type, err)
	}
	return msg, nil
}

func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrEmpty
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}
