package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeUpdateWithTextTimestamp(t *testing.T) {
	raw := `{"type":"update","playerId":0,"position":{"x":1.5,"y":2},"velocity":{"x":-1,"y":0},` +
		`"clientTimeStamp":"2024/03/0912:30:45.123456","mapVersion":3}`

	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	u, ok := msg.(UpdateRequest)
	if !ok {
		t.Fatalf("got %T, want UpdateRequest", msg)
	}
	if u.PlayerID != 0 || u.MapVersion != 3 {
		t.Fatalf("unexpected fields %+v", u)
	}
	if u.Position.X != 1.5 || u.Velocity.X != -1 {
		t.Fatalf("unexpected vectors %+v %+v", u.Position, u.Velocity)
	}

	want := time.Date(2024, 3, 9, 12, 30, 45, 123456000, time.Local)
	if !u.ClientTimeStamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", u.ClientTimeStamp.Time, want)
	}
}

func TestDecodeNumericTimestamp(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"update","playerId":2,"clientTimeStamp":1700000000.25}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	u := msg.(UpdateRequest)
	if u.ClientTimeStamp.Unix() != 1700000000 {
		t.Fatalf("unix seconds = %d", u.ClientTimeStamp.Unix())
	}
	if ms := u.ClientTimeStamp.Nanosecond() / int(time.Millisecond); ms != 250 {
		t.Fatalf("fraction = %dms, want 250", ms)
	}
}

func TestDecodeRequests(t *testing.T) {
	tests := []struct {
		raw  string
		want Message
	}{
		{`{"type":"initial","playerName":"ana"}`, InitialRequest{PlayerName: "ana"}},
		{`{"type":"picked_chest","playerId":1,"chestId":4}`, PickedChestRequest{PlayerID: 1, ChestID: 4}},
		{`{"type":"disconnect","playerId":7}`, DisconnectRequest{PlayerID: 7}},
	}

	for _, tt := range tests {
		got, err := Decode([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: decode failed: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", ``, ErrEmpty},
		{"unknown type", `{"type":"teleport"}`, ErrUnknownType},
		{"missing type", `{"playerId":1}`, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := Decode([]byte(`{"type":"update",`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
	if _, err := Decode([]byte(`{"type":"update","clientTimeStamp":"yesterday"}`)); err == nil {
		t.Fatalf("expected error for bad timestamp")
	}
}

func TestEncodeUpdateResponse(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 1, 2, 3, 4, 5, 6000, time.Local))
	resp := UpdateResponse{
		Type: MessageUpdate,
		State: State{
			Players: map[int]PlayerState{
				0: {PlayerName: "ana", Health: 1, ServerTimeStamp: ts},
			},
			Bombs:      []BombState{{ID: 0, X: 3, Y: 4, Timer: 5}},
			Chests:     []ChestState{},
			MapChanges: [][]int{{12, 13}},
			Timer:      88,
		},
	}

	data, err := Encode(resp)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"type":"update"`,
		`"players":{"0":`,
		`"serverTimeStamp":"2024/01/0203:04:05.000006"`,
		`"map_changes":[[12,13]]`,
		`"timer":88`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("encoded %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "clientTimeStamp") {
		t.Fatalf("clientTimeStamp should be omitted before first update: %s", s)
	}

	var back map[string]any
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
}

func TestEncodeRejectsUnknownType(t *testing.T) {
	if _, err := Encode(DisconnectResponse{Type: MessageType(42)}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("got %v, want ErrUnknownType", err)
	}
	if _, err := Encode(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("got %v, want ErrEmpty", err)
	}
}
