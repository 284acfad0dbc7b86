package lua

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/Shopify/go-lua"
)

// VM wraps one Lua state. Every call takes the lock, so a VM may be shared
// between goroutines.
type VM struct {
	state *lua.State
	mu    sync.Mutex
}

func NewVM() *VM {
	state := lua.NewState()
	openSafeLibraries(state)
	return &VM{state: state}
}

func openSafeLibraries(state *lua.State) {
	lua.OpenLibraries(state)

	for _, name := range []string{"io", "os", "debug", "dofile", "loadfile", "require", "package"} {
		state.PushNil()
		state.SetGlobal(name)
	}
}

func (vm *VM) LoadFile(path string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := lua.DoFile(vm.state, path); err != nil {
		return fmt.Errorf("failed to load lua file %s: %w", path, err)
	}
	return nil
}

func (vm *VM) LoadString(code string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if err := lua.DoString(vm.state, code); err != nil {
		return fmt.Errorf("failed to load lua string: %w", err)
	}
	return nil
}

func (vm *VM) GetGlobalString(name string) (string, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.state.Global(name)
	defer vm.state.Pop(1)
	if !vm.state.IsString(-1) {
		return "", fmt.Errorf("global %s is not a string", name)
	}
	value, _ := vm.state.ToString(-1)
	return value, nil
}

func (vm *VM) HasFunction(name string) bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.hasFunction(name)
}

func (vm *VM) hasFunction(name string) bool {
	vm.state.Global(name)
	isFunc := vm.state.IsFunction(-1)
	vm.state.Pop(1)
	return isFunc
}

// CallFunction calls a global function with no results. Arguments may be strings,
// ints, float64s, bools, []int (pushed as a sequence) or map[int]int (pushed as a table).
func (vm *VM) CallFunction(name string, args ...any) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	vm.state.Global(name)
	if !vm.state.IsFunction(-1) {
		vm.state.Pop(1)
		return fmt.Errorf("global %s is not a function", name)
	}

	for i, arg := range args {
		if err := push(vm.state, arg); err != nil {
			vm.state.Pop(1 + i)
			return err
		}
	}

	if err := vm.state.ProtectedCall(len(args), 0, 0); err != nil {
		return fmt.Errorf("[Lua Error] function %s: %w", name, err)
	}
	return nil
}

func push(l *lua.State, arg any) error {
	switch v := arg.(type) {
	case string:
		l.PushString(v)
	case int:
		l.PushInteger(v)
	case float64:
		l.PushNumber(v)
	case bool:
		l.PushBoolean(v)
	case []int:
		l.CreateTable(len(v), 0)
		for i, n := range v {
			l.PushInteger(n)
			l.RawSetInt(-2, i+1)
		}
	case map[int]int:
		keys := make([]int, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Ints(keys)

		l.CreateTable(0, len(v))
		for _, k := range keys {
			l.PushInteger(k)
			l.PushInteger(v[k])
			l.RawSet(-3)
		}
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

// RegisterFunction exposes a Go function to scripts as a global.
func (vm *VM) RegisterFunction(name string, fn lua.Function) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.state.Register(name, fn)
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
