package player

import (
	"sort"
	"time"

	"github.com/siohaza/tapserv/internal/codec"
	"github.com/siohaza/tapserv/internal/protocol"
)

const (
	HealthAlive = 1
	HealthDead  = 0
)

type Player struct {
	ID         int
	Name       string
	Score      int
	Position   protocol.Vector2f
	Velocity   protocol.Vector2f
	Health     int
	ClientTime time.Time
	ServerTime time.Time
}

func New(id int, name string, now time.Time) *Player {
	return &Player{
		ID:         id,
		Name:       name,
		Health:     HealthAlive,
		ServerTime: now,
	}
}

// ApplyUpdate accepts the movement only when clientTime is strictly newer than the last
// accepted one. It reports whether the player changed.
func (p *Player) ApplyUpdate(pos, vel protocol.Vector2f, clientTime, now time.Time) bool {
	if !clientTime.After(p.ClientTime) {
		return false
	}
	p.Position = pos
	p.Velocity = vel
	p.ClientTime = clientTime
	p.ServerTime = now
	return true
}

// EstimatePosition dead-reckons the position from the last accepted update.
func (p *Player) EstimatePosition(now time.Time) protocol.Vector2f {
	dt := now.Sub(p.ServerTime).Seconds()
	return protocol.Vector2f{
		X: p.Position.X + p.Velocity.X*dt,
		Y: p.Position.Y + p.Velocity.Y*dt,
	}
}

func (p *Player) Kill() bool {
	if p.Health == HealthDead {
		return false
	}
	p.Health = HealthDead
	return true
}

func (p *Player) IsAlive() bool {
	return p.Health != HealthDead
}

func (p *Player) AddScore(n int) {
	p.Score += n
}

func (p *Player) Idle(now time.Time) time.Duration {
	return now.Sub(p.ServerTime)
}

func (p *Player) State() codec.PlayerState {
	st := codec.PlayerState{
		PlayerName:      p.Name,
		Score:           p.Score,
		Position:        p.Position,
		Velocity:        p.Velocity,
		Health:          p.Health,
		ServerTimeStamp: codec.NewTimestamp(p.ServerTime),
	}
	if !p.ClientTime.IsZero() {
		ts := codec.NewTimestamp(p.ClientTime)
		st.ClientTimeStamp = &ts
	}
	return st
}

// Roster is the set of players in one round. Ids are handed out in order and never
// reused. It has no lock: the game engine goroutine is its only user.
type Roster struct {
	players map[int]*Player
	nextID  int
}

func NewRoster() *Roster {
	return &Roster{
		players: make(map[int]*Player),
	}
}

func (r *Roster) Register(name string, now time.Time) *Player {
	p := New(r.nextID, name, now)
	r.nextID++
	r.players[p.ID] = p
	return p
}

func (r *Roster) Remove(id int) (*Player, bool) {
	p, ok := r.players[id]
	if ok {
		delete(r.players, id)
	}
	return p, ok
}

func (r *Roster) Get(id int) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

func (r *Roster) Count() int {
	return len(r.players)
}

// All returns the players ordered by id.
func (r *Roster) All() []*Player {
	players := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

func (r *Roster) ForEach(fn func(*Player)) {
	for _, p := range r.All() {
		fn(p)
	}
}

// Stale lists players whose last accepted update is older than timeout.
func (r *Roster) Stale(now time.Time, timeout time.Duration) []int {
	var ids []int
	for _, p := range r.All() {
		if p.Idle(now) > timeout {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

func (r *Roster) States() map[int]codec.PlayerState {
	states := make(map[int]codec.PlayerState, len(r.players))
	for id, p := range r.players {
		states[id] = p.State()
	}
	return states
}

func (r *Roster) Scores() map[int]int {
	scores := make(map[int]int, len(r.players))
	for id, p := range r.players {
		scores[id] = p.Score
	}
	return scores
}
