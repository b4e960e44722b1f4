//go:build !no_automation

package automation

import (
	"context"
	"os"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// newTestVM returns a sandboxed VM over an engine with no devices.
func newTestVM(t *testing.T, cfg SystemConfig) (*lua.LState, *Engine) {
	t.Helper()
	e := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel)
	t.Cleanup(func() {
		cancel()
		vm.state.Close()
	})
	return vm.state, e
}

func TestSystemDatetime(t *testing.T) {
	L, _ := newTestVM(t, SystemConfig{})

	tests := []struct {
		component string
		want      lua.LValueType
	}{
		{"hour", lua.LTNumber},
		{"minute", lua.LTNumber},
		{"second", lua.LTNumber},
		{"weekday", lua.LTNumber},
		{"day", lua.LTNumber},
		{"month", lua.LTNumber},
		{"year", lua.LTNumber},
		{"timestamp", lua.LTNumber},
		{"time_str", lua.LTString},
		{"date_str", lua.LTString},
	}
	for _, tt := range tests {
		L.SetGlobal("_comp", lua.LString(tt.component))
		if err := L.DoString(`_result = system.datetime(_comp)`); err != nil {
			t.Fatalf("system.datetime(%q): %v", tt.component, err)
		}
		if got := L.GetGlobal("_result").Type(); got != tt.want {
			t.Errorf("system.datetime(%q) type = %v, want %v", tt.component, got, tt.want)
		}
	}

	if err := L.DoString(`system.datetime("fortnight")`); err == nil {
		t.Error("unknown component accepted")
	}
}

func TestHourBetween(t *testing.T) {
	tests := []struct {
		hour, from, to int
		want           bool
	}{
		{10, 8, 22, true},
		{8, 8, 22, true},
		{22, 8, 22, false},
		{3, 8, 22, false},
		{23, 22, 6, true},
		{2, 22, 6, true},
		{6, 22, 6, false},
		{12, 22, 6, false},
	}
	for _, tt := range tests {
		if got := hourBetween(tt.hour, tt.from, tt.to); got != tt.want {
			t.Errorf("hourBetween(%d, %d, %d) = %v, want %v", tt.hour, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSystemTimeBetween(t *testing.T) {
	L, _ := newTestVM(t, SystemConfig{})
	if err := L.DoString(`_result = system.time_between(0, 24)`); err != nil {
		t.Fatal(err)
	}
	if L.GetGlobal("_result") != lua.LTrue {
		t.Error("time_between(0, 24) = false, want true")
	}
}

func TestSystemExecBlocked(t *testing.T) {
	tests := []struct {
		name      string
		allowlist []string
		cmd       string
	}{
		{"empty allowlist", nil, "/bin/echo hi"},
		{"relative path", []string{"echo"}, "echo hi"},
		{"not in allowlist", []string{"/bin/echo"}, "/bin/ls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L, _ := newTestVM(t, SystemConfig{ExecAllowlist: tt.allowlist})
			L.SetGlobal("_cmd", lua.LString(tt.cmd))
			if err := L.DoString(`_result = system.exec(_cmd)`); err != nil {
				t.Fatal(err)
			}
			if s, ok := L.GetGlobal("_result").(lua.LString); !ok || s != "" {
				t.Errorf("exec returned %v, want empty string", L.GetGlobal("_result"))
			}
		})
	}
}

func TestSystemExecAllowed(t *testing.T) {
	if _, err := os.Stat("/bin/echo"); err != nil {
		t.Skip("/bin/echo not available")
	}
	L, _ := newTestVM(t, SystemConfig{ExecAllowlist: []string{"/bin/echo"}, ExecTimeout: 5 * time.Second})
	if err := L.DoString(`_result = system.exec("/bin/echo hello")`); err != nil {
		t.Fatal(err)
	}
	if s, _ := L.GetGlobal("_result").(lua.LString); s != "hello\n" {
		t.Errorf("exec returned %q, want %q", s, "hello\n")
	}
}

func TestSandboxRemovesUnsafeGlobals(t *testing.T) {
	L, _ := newTestVM(t, SystemConfig{})
	for _, name := range []string{"os", "io", "require", "load", "dofile", "debug"} {
		if L.GetGlobal(name) != lua.LNil {
			t.Errorf("global %s still available", name)
		}
	}
}
