package pty

import (
	"fmt"
	"os"
	"sync"

	"github.com/shelltether/shelltether/internal/tunnelerr"
)

// RunningInfo is the {id, cwd} pair the agent reports for each live
// instance at register time, enabling the server to distinguish
// adoptable (Suspended) instances from brand-new ones.
type RunningInfo struct {
	ID  string
	Cwd string
}

// Manager is the keyed table of PTY instances an agent owns. All
// operations are safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewManager returns an empty instance manager.
func NewManager() *Manager {
	return &Manager{instances: make(map[string]*Instance)}
}

// Create spawns a new PTY instance under id. It rejects a duplicate id
// or a cwd that doesn't exist / isn't a directory.
func (m *Manager) Create(id, cwd string, sink Sink) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[id]; exists {
		return nil, fmt.Errorf("instance %s already exists", id)
	}
	info, err := os.Stat(cwd)
	if err != nil {
		return nil, fmt.Errorf("stat cwd %s: %w", cwd, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("cwd %s is not a directory", cwd)
	}

	inst, err := New(id, cwd, sink)
	if err != nil {
		return nil, err
	}
	m.instances[id] = inst
	return inst, nil
}

// Close removes and kills the instance with id. Missing id is a no-op
// success (closing twice is harmless).
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if ok {
		delete(m.instances, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	inst.Teardown()
	return nil
}

// Write delegates to the instance; a missing id fails loudly.
func (m *Manager) Write(id string, data []byte) error {
	inst, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", tunnelerr.ErrInstanceNotFound, id)
	}
	return inst.Write(data)
}

// Resize delegates to the instance; a missing id fails loudly.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	inst, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", tunnelerr.ErrInstanceNotFound, id)
	}
	return inst.Resize(cols, rows)
}

func (m *Manager) get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Has reports whether id is a known instance.
func (m *Manager) Has(id string) bool {
	_, ok := m.get(id)
	return ok
}

// Count returns the number of tracked instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// RebindAll atomically rebinds every instance's output sink, marking
// each connected. Called once per (re)connect before the agent streams.
func (m *Manager) RebindAll(sink Sink) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inst := range m.instances {
		inst.RebindOutputSink(sink)
	}
}

// SetAllDisconnected flips every instance's connected flag to false.
// Called when the control channel drops.
func (m *Manager) SetAllDisconnected() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inst := range m.instances {
		inst.SetConnected(false)
	}
}

// DrainAll drains every instance's buffer, omitting empty results. Called
// right after registering so bytes buffered during an outage are flushed
// before new output.
func (m *Manager) DrainAll() map[string][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for id, inst := range m.instances {
		if buf := inst.DrainBuffer(); len(buf) > 0 {
			out[id] = buf
		}
	}
	return out
}

// ListRunningInfo returns {id, cwd} for every instance whose child has
// not exited, for inclusion in the register frame's existing_instances.
func (m *Manager) ListRunningInfo() []RunningInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RunningInfo
	for id, inst := range m.instances {
		if inst.IsRunning() {
			out = append(out, RunningInfo{ID: id, Cwd: inst.Cwd})
		}
	}
	return out
}

// ReapDead removes instances whose child has exited and returns the
// count removed.
func (m *Manager) ReapDead() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var dead []string
	for id, inst := range m.instances {
		if !inst.IsRunning() {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		m.instances[id].Teardown()
		delete(m.instances, id)
	}
	return len(dead)
}
