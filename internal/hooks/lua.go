package hooks

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/siohaza/tapserv/pkg/lua"
)

// LuaHooks forwards events to global functions of a sandboxed script. Missing
// functions are skipped and script errors are logged.
type LuaHooks struct {
	vm     *lua.VM
	name   string
	logger *slog.Logger
}

func NewLuaHooks(scriptPath string, logger *slog.Logger) (*LuaHooks, error) {
	if !lua.FileExists(scriptPath) {
		return nil, fmt.Errorf("hook script not found: %s", scriptPath)
	}

	h := newLuaHooks(filepath.Base(scriptPath), logger)
	if err := h.vm.LoadFile(scriptPath); err != nil {
		return nil, fmt.Errorf("failed to load hook script: %w", err)
	}

	h.logger.Info("lua hooks loaded", "script", scriptPath)
	return h, nil
}

// NewLuaHooksFromString loads hooks from source held in memory.
func NewLuaHooksFromString(name, code string, logger *slog.Logger) (*LuaHooks, error) {
	h := newLuaHooks(name, logger)
	if err := h.vm.LoadString(code); err != nil {
		return nil, fmt.Errorf("failed to load hook script: %w", err)
	}
	return h, nil
}

func newLuaHooks(name string, logger *slog.Logger) *LuaHooks {
	if logger == nil {
		logger = slog.Default()
	}

	vm := lua.NewVM()
	lua.RegisterLogAPI(vm, name, logger)

	return &LuaHooks{
		vm:     vm,
		name:   name,
		logger: logger,
	}
}

func (h *LuaHooks) Name() string {
	return h.name
}

func (h *LuaHooks) call(fn string, args ...any) {
	if !h.vm.HasFunction(fn) {
		return
	}
	if err := h.vm.CallFunction(fn, args...); err != nil {
		h.logger.Error("lua hook "+fn+" error", "script", h.name, "error", err)
	}
}

func (h *LuaHooks) OnRoundStart(roundID string) {
	h.call("on_round_start", roundID)
}

func (h *LuaHooks) OnRoundEnd(roundID string, scores map[int]int) {
	h.call("on_round_end", roundID, scores)
}

func (h *LuaHooks) OnPlayerJoin(playerID int, name string) {
	h.call("on_player_join", playerID, name)
}

func (h *LuaHooks) OnPlayerLeave(playerID int, reason string) {
	h.call("on_player_leave", playerID, reason)
}

func (h *LuaHooks) OnChestPicked(playerID, chestID, score int) {
	h.call("on_chest_picked", playerID, chestID, score)
}

func (h *LuaHooks) OnPlayerKilled(playerID, bombID int) {
	h.call("on_player_killed", playerID, bombID)
}

func (h *LuaHooks) OnExplosion(bombID, x, y, cleared int) {
	h.call("on_explosion", bombID, x, y, cleared)
}

// Global reads a string global set by the script, mainly for tests and diagnostics.
func (h *LuaHooks) Global(name string) (string, error) {
	return h.vm.GetGlobalString(name)
}
