package gamestate

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/siohaza/tapserv/internal/codec"
	"github.com/siohaza/tapserv/internal/player"
	"github.com/siohaza/tapserv/internal/protocol"
	"github.com/siohaza/tapserv/internal/world"
	"github.com/siohaza/tapserv/pkg/config"
)

type Bomb struct {
	ID   int
	Cell protocol.Cell
	Fuse int
}

type Chest struct {
	ID   int
	Cell protocol.Cell
}

// Explosion describes one bomb that went off during a resolver pass.
type Explosion struct {
	BombID  int
	Cell    protocol.Cell
	Cleared []int
	Killed  []int
}

// Round is everything that lives for one round. It is not safe for concurrent use;
// the Engine goroutine owns it.
type Round struct {
	ID        uuid.UUID
	StartedAt time.Time
	Grid      *world.Grid
	Changes   world.ChangeLog
	Players   *player.Roster
	Bombs     []*Bomb
	Chests    []*Chest
	Timer     int

	cfg          config.GameConfig
	rng          *rand.Rand
	nextBombID   int
	nextChestID  int
	lastFuseTick time.Time
}

func NewRound(cfg config.GameConfig, rng *rand.Rand, now time.Time) (*Round, error) {
	grid, err := world.Generate(rng, cfg.MapWidth, cfg.MapHeight, cfg.ObstacleThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to generate map: %w", err)
	}

	return &Round{
		ID:           uuid.New(),
		StartedAt:    now,
		Grid:         grid,
		Players:      player.NewRoster(),
		Bombs:        make([]*Bomb, 0),
		Chests:       make([]*Chest, 0),
		Timer:        cfg.RoundSeconds,
		cfg:          cfg,
		rng:          rng,
		lastFuseTick: now,
	}, nil
}

// Register adds a player and picks a spawn cell for them.
func (r *Round) Register(name string, now time.Time) (*player.Player, protocol.Cell) {
	p := r.Players.Register(name, now)
	return p, r.Grid.RandomEmptyCell(r.rng)
}

func (r *Round) InitialResponse(playerID int, spawn protocol.Cell) codec.InitialResponse {
	return codec.InitialResponse{
		Type:       codec.MessageInitial,
		Map:        r.Grid.Clone(),
		Width:      r.Grid.Width,
		Height:     r.Grid.Height,
		MapVersion: r.Changes.Version(),
		Spawn:      spawn,
		PlayerID:   playerID,
	}
}

// ApplyUpdate stores the movement in req when its client timestamp is newer than
// the last accepted one. found is false for unknown players.
func (r *Round) ApplyUpdate(req codec.UpdateRequest, now time.Time) (applied, found bool) {
	p, ok := r.Players.Get(req.PlayerID)
	if !ok {
		return false, false
	}
	return p.ApplyUpdate(req.Position, req.Velocity, req.ClientTimeStamp.Time, now), true
}

// State is the world as an update reply sees it, with map changes past mapVersion.
func (r *Round) State(mapVersion int) codec.State {
	st := codec.State{
		Players:    r.Players.States(),
		Bombs:      make([]codec.BombState, 0, len(r.Bombs)),
		Chests:     make([]codec.ChestState, 0, len(r.Chests)),
		MapChanges: r.Changes.Since(mapVersion),
		Timer:      r.Timer,
	}
	for _, b := range r.Bombs {
		st.Bombs = append(st.Bombs, codec.BombState{ID: b.ID, X: b.Cell.X, Y: b.Cell.Y, Timer: float64(b.Fuse)})
	}
	for _, c := range r.Chests {
		st.Chests = append(st.Chests, codec.ChestState{ID: c.ID, X: c.Cell.X, Y: c.Cell.Y})
	}
	return st
}

// PickChest removes the chest and credits the player. Both must exist.
func (r *Round) PickChest(playerID, chestID int) (score int, ok bool) {
	p, found := r.Players.Get(playerID)
	if !found {
		return 0, false
	}
	for i, c := range r.Chests {
		if c.ID != chestID {
			continue
		}
		r.Chests = append(r.Chests[:i], r.Chests[i+1:]...)
		p.AddScore(1)
		return p.Score, true
	}
	return 0, false
}

func (r *Round) Disconnect(playerID int) bool {
	_, ok := r.Players.Remove(playerID)
	return ok
}

// SpawnDivisor scales spawner sleeps so busier rounds spawn faster.
func (r *Round) SpawnDivisor() int {
	if n := r.Players.Count(); n > 0 {
		return n
	}
	return 1
}

// SpawnChest places a chest on an empty cell. Nothing spawns in an empty round.
func (r *Round) SpawnChest() (Chest, bool) {
	if r.Players.Count() == 0 {
		return Chest{}, false
	}
	c := &Chest{ID: r.nextChestID, Cell: r.Grid.RandomEmptyCell(r.rng)}
	r.nextChestID++
	r.Chests = append(r.Chests, c)
	return *c, true
}

func (r *Round) SpawnBomb() (Bomb, bool) {
	if r.Players.Count() == 0 {
		return Bomb{}, false
	}
	b := &Bomb{ID: r.nextBombID, Cell: r.Grid.RandomEmptyCell(r.rng), Fuse: r.cfg.BombFuseSeconds}
	r.nextBombID++
	r.Bombs = append(r.Bombs, b)
	return *b, true
}

// TickBombs burns one fuse second per whole second since the last tick and resolves
// every bomb whose fuse ran out.
func (r *Round) TickBombs(now time.Time) []Explosion {
	elapsed := int(now.Sub(r.lastFuseTick) / time.Second)
	if elapsed <= 0 {
		return nil
	}
	r.lastFuseTick = r.lastFuseTick.Add(time.Duration(elapsed) * time.Second)

	for _, b := range r.Bombs {
		b.Fuse -= elapsed
	}
	return r.resolveExpired(now)
}

func (r *Round) resolveExpired(now time.Time) []Explosion {
	var explosions []Explosion
	remaining := r.Bombs[:0]

	for _, b := range r.Bombs {
		if b.Fuse > 0 {
			remaining = append(remaining, b)
			continue
		}
		explosions = append(explosions, r.explode(b, now))
	}

	for i := len(remaining); i < len(r.Bombs); i++ {
		r.Bombs[i] = nil
	}
	r.Bombs = remaining
	return explosions
}

func (r *Round) explode(b *Bomb, now time.Time) Explosion {
	rangeTiles := r.cfg.BlastRange
	ex := Explosion{
		BombID:  b.ID,
		Cell:    b.Cell,
		Cleared: r.Grid.Explode(b.Cell.X, b.Cell.Y, rangeTiles),
	}
	r.Changes.Append(ex.Cleared)

	cx, cy := float64(b.Cell.X), float64(b.Cell.Y)
	r.Players.ForEach(func(p *player.Player) {
		if !p.IsAlive() {
			return
		}
		pos := p.EstimatePosition(now)
		if world.Distance(cx, cy, pos.X, pos.Y) > float64(rangeTiles) {
			return
		}
		p.Kill()
		ex.Killed = append(ex.Killed, p.ID)
	})
	return ex
}

// SweepLiveness removes players with no accepted update within timeout.
func (r *Round) SweepLiveness(now time.Time, timeout time.Duration) []int {
	stale := r.Players.Stale(now, timeout)
	for _, id := range stale {
		r.Players.Remove(id)
	}
	return stale
}

// Countdown drops the timer by one second and returns the new value.
func (r *Round) Countdown() int {
	r.Timer--
	return r.Timer
}

func (r *Round) Expired() bool {
	return r.Timer < 0
}
