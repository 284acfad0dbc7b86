package hooks

// Hooks observes round events. Implementations must not block for long; they are
// called from the request handler and the periodic tasks.
type Hooks interface {
	OnRoundStart(roundID string)
	OnRoundEnd(roundID string, scores map[int]int)
	OnPlayerJoin(playerID int, name string)
	OnPlayerLeave(playerID int, reason string)
	OnChestPicked(playerID, chestID, score int)
	OnPlayerKilled(playerID, bombID int)
	OnExplosion(bombID, x, y, cleared int)
}

const (
	LeaveDisconnect = "disconnect"
	LeaveTimeout    = "timeout"
)

type Nop struct{}

func (Nop) OnRoundStart(roundID string)                   {}
func (Nop) OnRoundEnd(roundID string, scores map[int]int) {}
func (Nop) OnPlayerJoin(playerID int, name string)        {}
func (Nop) OnPlayerLeave(playerID int, reason string)     {}
func (Nop) OnChestPicked(playerID, chestID, score int)    {}
func (Nop) OnPlayerKilled(playerID, bombID int)           {}
func (Nop) OnExplosion(bombID, x, y, cleared int)         {}

// Chain fans every event out to its registered hooks in order. Register before the
// server starts; the chain is not safe for concurrent registration.
type Chain struct {
	hooks []Hooks
}

func NewChain() *Chain {
	return &Chain{
		hooks: make([]Hooks, 0),
	}
}

func (c *Chain) Register(h Hooks) {
	c.hooks = append(c.hooks, h)
}

func (c *Chain) Len() int {
	return len(c.hooks)
}

func (c *Chain) OnRoundStart(roundID string) {
	for _, h := range c.hooks {
		h.OnRoundStart(roundID)
	}
}

func (c *Chain) OnRoundEnd(roundID string, scores map[int]int) {
	for _, h := range c.hooks {
		h.OnRoundEnd(roundID, scores)
	}
}

func (c *Chain) OnPlayerJoin(playerID int, name string) {
	for _, h := range c.hooks {
		h.OnPlayerJoin(playerID, name)
	}
}

func (c *Chain) OnPlayerLeave(playerID int, reason string) {
	for _, h := range c.hooks {
		h.OnPlayerLeave(playerID, reason)
	}
}

func (c *Chain) OnChestPicked(playerID, chestID, score int) {
	for _, h := range c.hooks {
		h.OnChestPicked(playerID, chestID, score)
	}
}

func (c *Chain) OnPlayerKilled(playerID, bombID int) {
	for _, h := range c.hooks {
		h.OnPlayerKilled(playerID, bombID)
	}
}

func (c *Chain) OnExplosion(bombID, x, y, cleared int) {
	for _, h := range c.hooks {
		h.OnExplosion(bombID, x, y, cleared)
	}
}
