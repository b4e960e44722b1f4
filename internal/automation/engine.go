//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"tuya-go-home/internal/device"
)

const (
	runTimeout     = 5 * time.Second
	commandTimeout = 10 * time.Second
	queueSize      = 64
)

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// luaEventHandler is a callback registered with tuya.on.
type luaEventHandler struct {
	eventType string
	device    string // empty matches any device
	topic     string // state topic name, e.g. "hs_state"; empty matches any
	fn        *lua.LFunction
}

// scriptVM is one running script. Lua state is touched only by the VM's
// goroutine; everything else sends closures through commands.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers

	// logf receives tuya.log output. Nil logs through the engine.
	logf func(msg string)
}

// Engine runs scripts and feeds them device events.
type Engine struct {
	devices *device.Manager
	manager *Manager
	logger  *slog.Logger

	systemCfg SystemConfig

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

// NewEngine creates an automation engine.
func NewEngine(devices *device.Manager, mgr *Manager, logger *slog.Logger, sysCfg SystemConfig) *Engine {
	return &Engine{
		devices:   devices,
		manager:   mgr,
		logger:    logger.With("component", "automation"),
		systemCfg: sysCfg,
		vms:       make(map[string]*scriptVM),
	}
}

// Start subscribes to device events and starts every enabled script.
func (e *Engine) Start() {
	e.unsub = e.devices.Events().OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("automation engine started", "scripts", e.Running())
}

// Stop cancels all VMs and unsubscribes from device events.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("automation engine stopped")
}

// Running returns the number of running scripts.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ReloadScript restarts a script from disk. A disabled script is only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.stopScript(id)
	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

// StopScript stops a running script.
func (e *Engine) StopScript(id string) {
	e.stopScript(id)
}

// RunScript executes a stored script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code in a throwaway VM, capturing tuya.log output.
// Handlers the code registers are not kept.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logMu sync.Mutex
		logs  []string
	)
	vm := e.newVM(ctx, cancel)
	vm.logf = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}
	defer vm.state.Close()

	res := &RunResult{OK: true}
	if err := vm.state.DoString(code); err != nil {
		res.OK = false
		res.Error = err.Error()
		if ctx.Err() != nil {
			res.Error = "timeout (" + runTimeout.String() + ")"
		}
	}
	logMu.Lock()
	res.Logs = logs
	logMu.Unlock()
	res.Duration = time.Since(start).String()
	return res
}

// newVM creates a sandboxed Lua state with the tuya and system modules.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerTuyaModule(L, vm, e)
	registerSystemModule(L, vm, e)
	return vm
}

func (e *Engine) stopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel)
	L := vm.state

	if err := L.DoString(s.LuaCode); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues matching handlers on their VMs. It never blocks:
// devices emit while holding their command lock, and a handler may itself
// command a device.
func (e *Engine) dispatchEvent(event device.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := make([]luaEventHandler, len(vm.handlers))
		copy(handlers, vm.handlers)
		vm.mu.Unlock()

		for _, h := range handlers {
			if vm.ctx.Err() != nil {
				break
			}
			if !matchesHandler(h, event) {
				continue
			}
			fn := h.fn
			select {
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, event) }:
			default:
				e.logger.Warn("script queue full, dropping event", "type", event.Type, "device", event.DeviceID)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, event device.Event) bool {
	if h.eventType != event.Type {
		return false
	}
	if h.device != "" && h.device != event.DeviceID {
		return false
	}
	if h.topic != "" {
		u, ok := event.Data.(device.StateUpdate)
		if !ok || u.Name != h.topic {
			return false
		}
	}
	return true
}

// eventFields flattens an event into the table handed to Lua.
func eventFields(event device.Event) map[string]any {
	f := map[string]any{"type": event.Type, "device": event.DeviceID}
	switch d := event.Data.(type) {
	case device.StateUpdate:
		f["topic"] = d.Name
		f["mqtt_topic"] = d.Topic
		f["payload"] = d.Payload
		f["value"] = d.Value
	case device.StatusChange:
		f["status"] = string(d.Status)
		if d.Error != "" {
			f["error"] = d.Error
		}
	case device.Availability:
		f["online"] = d.Online
	case device.Descriptor:
		f["name"] = d.Name
		f["kind"] = string(d.Kind)
	}
	return f
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, event device.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, goToLua(L, eventFields(event))); err != nil {
		e.logger.Error("lua handler error", "device", event.DeviceID, "err", err)
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, lua.LString(vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// luaToString renders a Lua argument as a command payload. Integral numbers
// print without a decimal point.
func luaToString(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LBool:
		if val {
			return "true"
		}
		return "false"
	case lua.LNumber:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	default:
		return v.String()
	}
}
