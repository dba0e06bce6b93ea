package hook

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// Runner executes the user's post-task Lua script in a sandboxed
// state. Hook failures are the script author's problem: the caller
// logs them and the task outcome stands.
type Runner struct {
	path string
	log  *logrus.Logger
}

func New(path string, log *logrus.Logger) *Runner {
	return &Runner{path: path, log: log}
}

// Run calls the script's on_task_done(folder, status, artifacts)
// function. The script must define it at the top level.
func (r *Runner) Run(folder, status string, artifacts []string) error {
	script, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read hook script: %w", err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	openSafeLibs(L)
	L.SetGlobal("log", L.NewFunction(r.luaLog))

	if err := L.DoString(string(script)); err != nil {
		return fmt.Errorf("failed to load hook script: %w", err)
	}

	fn := L.GetGlobal("on_task_done")
	if fn == lua.LNil {
		return fmt.Errorf("hook script must define an 'on_task_done' function")
	}

	tbl := L.NewTable()
	for _, a := range artifacts {
		tbl.Append(lua.LString(a))
	}

	L.Push(fn)
	L.Push(lua.LString(folder))
	L.Push(lua.LString(status))
	L.Push(tbl)
	if err := L.PCall(3, 0, nil); err != nil {
		return fmt.Errorf("hook execution failed: %w", err)
	}
	return nil
}

// openSafeLibs loads only side-effect-free standard libraries. The
// hook observes task outcomes; it does not get io, os, or load.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func (r *Runner) luaLog(L *lua.LState) int {
	msg := L.CheckString(1)
	r.log.Infof("hook: %s", msg)
	return 0
}
