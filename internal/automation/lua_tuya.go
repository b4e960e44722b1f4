//go:build !no_automation

package automation

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerTuyaModule installs the `tuya` global table.
func registerTuyaModule(L *lua.LState, vm *scriptVM, e *Engine) {
	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"on":      func(L *lua.LState) int { return tuyaOn(L, vm) },
		"command": func(L *lua.LState) int { return tuyaCommand(L, vm, e) },
		"state":   func(L *lua.LState) int { return tuyaState(L, e) },
		"devices": func(L *lua.LState) int { return tuyaDevices(L, e) },
		"after":   func(L *lua.LState) int { return tuyaAfter(L, vm, e) },
		"log":     func(L *lua.LState) int { return tuyaLog(L, vm, e) },
	}
	for name, fn := range fns {
		mod.RawSetString(name, L.NewFunction(fn))
	}
	L.SetGlobal("tuya", mod)
}

// tuya.on(type, [filter], callback)
//
// filter fields: device (id), topic (state topic name such as "hs_state").
func tuyaOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	if fn, ok := L.Get(2).(*lua.LFunction); ok {
		h.fn = fn
	} else {
		filter := L.CheckTable(2)
		h.fn = L.CheckFunction(3)
		if v := filter.RawGetString("device"); v != lua.LNil {
			h.device = v.String()
		}
		if v := filter.RawGetString("topic"); v != lua.LNil {
			h.topic = v.String()
		}
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// tuya.command(device, topic, payload) -> true | nil, err
//
// topic is relative to the device base topic: "hs_cmnd", "dps/cmnd" or
// "dps/20/cmnd".
func tuyaCommand(L *lua.LState, vm *scriptVM, e *Engine) int {
	id := L.CheckString(1)
	topic := L.CheckString(2)
	payload := luaToString(L.CheckAny(3))

	d, ok := e.devices.Get(id)
	if !ok {
		L.Push(lua.LNil)
		L.Push(lua.LString("unknown device " + id))
		return 2
	}
	ctx, cancel := context.WithTimeout(vm.ctx, commandTimeout)
	defer cancel()
	if err := d.Dispatch(ctx, topic, []byte(payload)); err != nil {
		e.logger.Warn("script command failed", "device", id, "topic", topic, "err", err)
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// tuya.state(device, topic) -> payload | nil
func tuyaState(L *lua.LState, e *Engine) int {
	id := L.CheckString(1)
	topic := L.CheckString(2)
	d, ok := e.devices.Get(id)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	if v, ok := d.Snapshot().State[topic]; ok {
		L.Push(lua.LString(v))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}

// tuya.devices() -> { {id=, name=, kind=, status=}, ... }
func tuyaDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, d := range e.devices.List() {
		status, _ := d.Status()
		t := L.NewTable()
		t.RawSetString("id", lua.LString(d.ID()))
		t.RawSetString("name", lua.LString(d.Name()))
		t.RawSetString("kind", lua.LString(d.Kind()))
		t.RawSetString("status", lua.LString(status))
		tbl.RawSetInt(i+1, t)
	}
	L.Push(tbl)
	return 1
}

// tuya.after(seconds, callback)
func tuyaAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		default:
			e.logger.Warn("after: script queue full")
		}
	}()
	return 0
}

// tuya.log(msg)
func tuyaLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	msg := L.CheckString(1)
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "msg", msg)
	return 0
}
