// Package script runs designer Lua hooks in a restricted sandbox. Each job
// gets a fresh interpreter with only the base, string, table, and math
// libraries; os, io, and file loading are stripped. Scripts observe the
// room through read-only context tables and mutate it only through the
// host functions, which stage deltas for the command lifecycle to apply.
package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/port4k/port4k/pkg/world"
)

var (
	// ErrTimeout means the script exceeded its wall-clock budget.
	ErrTimeout = errors.New("script: time budget exceeded")
	// ErrBusy means no worker accepted the job within the budget.
	ErrBusy = errors.New("script: engine busy")
)

// Hook names a script attachment point.
type Hook string

const (
	HookEnter   Hook = "on_enter"
	HookLeave   Hook = "on_leave"
	HookCommand Hook = "on_command"
	HookUse     Hook = "on_use"
)

// Job is one script invocation.
type Job struct {
	Source  string // Lua chunk
	Hook    Hook
	Account string
	Room    *world.RoomView
	Verb    string
	Noun    string
	Raw     string // raw command line for on_command hooks
	Object  string // object key for on_use hooks
}

// Result is what a script produced. Emits and the Delta are staged; the
// lifecycle decides whether they reach players and state.
type Result struct {
	Handled   bool     // script claimed the command
	Emits     []string // lines for the acting session
	RoomEmits []string // lines for everyone in the room
	Delta     world.Delta
	Err       error
}

// run executes one job in a fresh interpreter. Called from a worker
// goroutine; the caller enforces the time budget.
func run(job Job) *Result {
	res := &Result{Delta: world.Delta{}}
	if job.Room != nil {
		res.Delta.Room = job.Room.Room
	}

	l := lua.NewState()
	openSandbox(l)
	registerHost(l, job, res)
	pushContext(l, job)

	if err := lua.LoadString(l, job.Source); err != nil {
		res.Err = fmt.Errorf("script: load %s: %w", job.Hook, err)
		return res
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		res.Err = fmt.Errorf("script: run %s: %w", job.Hook, err)
		return res
	}
	if l.IsBoolean(-1) {
		res.Handled = l.ToBoolean(-1)
	}
	l.Pop(1)
	return res
}

// openSandbox loads the permitted libraries and strips everything that
// reaches outside the interpreter.
func openSandbox(l *lua.State) {
	for _, lib := range []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
	} {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "os", "io", "print"} {
		l.PushNil()
		l.SetGlobal(name)
	}
}

// registerHost installs the mutator and emit functions. They close over
// the job's result; scripts never touch live state directly.
func registerHost(l *lua.State, job Job, res *Result) {
	host := []lua.RegistryFunction{
		{Name: "emit", Function: func(l *lua.State) int {
			res.Emits = append(res.Emits, lua.CheckString(l, 1))
			return 0
		}},
		{Name: "emit_room", Function: func(l *lua.State) int {
			res.RoomEmits = append(res.RoomEmits, lua.CheckString(l, 1))
			return 0
		}},
		{Name: "get_state", Function: func(l *lua.State) int {
			key := lua.CheckString(l, 1)
			if job.Room != nil {
				if v, ok := job.Room.KV[key]; ok {
					l.PushString(v)
					return 1
				}
			}
			l.PushNil()
			return 1
		}},
		{Name: "set_state", Function: func(l *lua.State) int {
			key := lua.CheckString(l, 1)
			val := lua.CheckString(l, 2)
			if res.Delta.SetKV == nil {
				res.Delta.SetKV = make(map[string]string)
			}
			res.Delta.SetKV[key] = val
			return 0
		}},
		{Name: "counter", Function: func(l *lua.State) int {
			name := lua.CheckString(l, 1)
			n := 0
			if job.Room != nil {
				n = job.Room.Counter(name)
			}
			l.PushInteger(n)
			return 1
		}},
		{Name: "consume", Function: func(l *lua.State) int {
			name := lua.CheckString(l, 1)
			qty := lua.CheckInteger(l, 2)
			if qty > 0 {
				if res.Delta.Consume == nil {
					res.Delta.Consume = make(map[string]int)
				}
				res.Delta.Consume[name] += qty
			}
			return 0
		}},
		{Name: "reveal", Function: func(l *lua.State) int {
			res.Delta.Reveal = append(res.Delta.Reveal, lua.CheckString(l, 1))
			return 0
		}},
		{Name: "unlock_object", Function: func(l *lua.State) int {
			res.Delta.Unlock = append(res.Delta.Unlock, lua.CheckString(l, 1))
			return 0
		}},
		{Name: "remove_object", Function: func(l *lua.State) int {
			res.Delta.Remove = append(res.Delta.Remove, lua.CheckString(l, 1))
			return 0
		}},
		{Name: "set_exit_locked", Function: func(l *lua.State) int {
			dirName := lua.CheckString(l, 1)
			lua.CheckAny(l, 2)
			locked := l.ToBoolean(2)
			dir, ok := world.ParseDirection(dirName)
			if !ok {
				lua.Errorf(l, "unknown direction %q", dirName)
				return 0
			}
			if res.Delta.SetExitLock == nil {
				res.Delta.SetExitLock = make(map[world.Direction]bool)
			}
			res.Delta.SetExitLock[dir] = locked
			return 0
		}},
	}
	l.NewTable()
	lua.SetFunctions(l, host, 0)
	l.SetGlobal("room")

	// emit and emit_room double as bare globals for terse scripts.
	for _, name := range []string{"emit", "emit_room"} {
		l.Global("room")
		l.Field(-1, name)
		l.SetGlobal(name)
		l.Pop(1)
	}
}

// pushContext installs the read-only ctx table: who acted, where, and the
// parsed command.
func pushContext(l *lua.State, job Job) {
	l.NewTable()
	setStr := func(k, v string) {
		l.PushString(v)
		l.SetField(-2, k)
	}
	setStr("account", job.Account)
	setStr("hook", string(job.Hook))
	setStr("verb", job.Verb)
	setStr("noun", job.Noun)
	setStr("raw", job.Raw)
	setStr("object", job.Object)
	if job.Room != nil {
		setStr("room", job.Room.Room)
		setStr("title", job.Room.Title)
	}
	l.SetGlobal("ctx")
}

// Normalize trims a chunk and reports whether there is anything to run.
func Normalize(source string) (string, bool) {
	s := strings.TrimSpace(source)
	return s, s != ""
}
