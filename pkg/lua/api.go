package lua

import (
	"fmt"
	"log/slog"

	"github.com/Shopify/go-lua"
)

// RegisterLogAPI gives scripts log_info, log_warn and log_debug, all routed to logger
// with a "script" attribute.
func RegisterLogAPI(vm *VM, script string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("script", script)

	vm.RegisterFunction("log_info", logFunc(logger.Info))
	vm.RegisterFunction("log_warn", logFunc(logger.Warn))
	vm.RegisterFunction("log_debug", logFunc(logger.Debug))
}

func logFunc(emit func(msg string, args ...any)) lua.Function {
	return func(l *lua.State) int {
		msg := lua.CheckString(l, 1)

		top := l.Top()
		var attrs []any
		for i := 2; i <= top; i++ {
			s, _ := lua.ToStringMeta(l, i)
			l.Pop(1)
			attrs = append(attrs, fmt.Sprintf("arg%d", i-1), s)
		}
		emit(msg, attrs...)
		return 0
	}
}
