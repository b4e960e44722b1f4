package tuya

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SetCall records one Set on a Memory client.
type SetCall struct {
	DPS   int
	Value any
}

// Memory is an in-process device that keeps its data points in a map. It backs
// the "simulated" transport and the tests.
type Memory struct {
	mu       sync.Mutex
	dps      map[int]any
	handlers []func(map[int]any)
	sets     []SetCall
	gets     []int

	// Delay is applied to every Get and Set. The call returns early with
	// the context error if ctx ends first.
	Delay time.Duration
	// Fail makes Get and Set on these DPS return an error.
	Fail map[int]error
	// Echo pushes every successful Set back through the data handlers, as
	// a real device does when it acknowledges a change.
	Echo bool
}

// NewMemory returns a simulated device holding initial.
func NewMemory(initial map[int]any) *Memory {
	m := &Memory{dps: make(map[int]any, len(initial))}
	for k, v := range initial {
		m.dps[k] = v
	}
	return m
}

func (m *Memory) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Get(ctx context.Context, dps int) (any, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets = append(m.gets, dps)
	if err := m.Fail[dps]; err != nil {
		return nil, fmt.Errorf("get dps %d: %w", dps, err)
	}
	return m.dps[dps], nil
}

func (m *Memory) Set(ctx context.Context, dps int, value any) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.Fail[dps]; err != nil {
		m.mu.Unlock()
		return fmt.Errorf("set dps %d: %w", dps, err)
	}
	m.dps[dps] = value
	m.sets = append(m.sets, SetCall{DPS: dps, Value: value})
	echo := m.Echo
	m.mu.Unlock()

	if echo {
		m.Push(map[int]any{dps: value})
	}
	return nil
}

func (m *Memory) OnData(handler func(map[int]any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Push simulates the device reporting new values.
func (m *Memory) Push(values map[int]any) {
	m.mu.Lock()
	for k, v := range values {
		m.dps[k] = v
	}
	handlers := make([]func(map[int]any), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		cp := make(map[int]any, len(values))
		for k, v := range values {
			cp[k] = v
		}
		h(cp)
	}
}

// Value returns the stored value of a DPS.
func (m *Memory) Value(dps int) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dps[dps]
}

// Sets returns every Set issued so far, in order.
func (m *Memory) Sets() []SetCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SetCall, len(m.sets))
	copy(out, m.sets)
	return out
}

// Gets returns the DPS indices read so far, in order.
func (m *Memory) Gets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.gets))
	copy(out, m.gets)
	return out
}

func (m *Memory) Close() error { return nil }
