// Package pty owns the agent-side PTY instances: one child shell and its
// master PTY per instance, plus the reader/monitor background tasks that
// bridge PTY bytes to the agent's outbound sink and survive channel
// reconnects.
package pty

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/shelltether/shelltether/internal/logger"
)

// maxBufferBytes caps the output buffer while no sink is attached.
const maxBufferBytes = 1 << 20 // 1 MiB

const readChunk = 4096

// Sink is the outbound side the reader task delivers bytes to while
// connected. Implementations are expected to be non-blocking best-effort
// channels; a failed Send means "treat me as disconnected."
type Sink interface {
	Send(instanceID string, data []byte) error
}

// Instance owns one child shell and its pseudo-terminal. Exported methods
// are safe for concurrent use; the Reader and Monitor goroutines are the
// only other mutators of the shared sink/buffer/connected state.
type Instance struct {
	ID  string
	Cwd string

	cmd    *exec.Cmd
	master *os.File

	mu           sync.Mutex
	sink         Sink
	connected    bool
	outputBuffer []byte

	waitDone chan struct{}
	exited   bool

	doneOnce sync.Once
	done     chan struct{}
}

// New opens a pseudo-terminal sized 80x24, spawns the host's default
// shell in cwd, and returns a running Instance with its reader and
// monitor tasks already started. sink may be nil; bytes simply buffer
// until RebindOutputSink is called.
func New(id, cwd string, sink Sink) (*Instance, error) {
	shell := defaultShell()
	cmd := exec.Command(shell)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		ID:        id,
		Cwd:       cwd,
		cmd:       cmd,
		master:    master,
		sink:      sink,
		connected: sink != nil,
		done:      make(chan struct{}),
		waitDone:  make(chan struct{}),
	}

	go inst.waitForExit()
	go inst.readLoop()
	go inst.monitorLoop()
	return inst, nil
}

// waitForExit blocks on the child process and records its exit, letting
// IsRunning and the monitor loop poll a channel instead of calling
// cmd.Wait (which may only be called once and would otherwise race).
func (i *Instance) waitForExit() {
	_ = i.cmd.Wait()
	i.mu.Lock()
	i.exited = true
	i.mu.Unlock()
	close(i.waitDone)
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// Write sends bytes to the PTY's input side.
func (i *Instance) Write(data []byte) error {
	_, err := i.master.Write(data)
	return err
}

// Resize applies a new window size to the master. A nil master (none of
// the core's instances are constructed that way, but a visible-mode
// variant could be) makes this a silent no-op.
func (i *Instance) Resize(cols, rows uint16) error {
	if i.master == nil {
		return nil
	}
	return pty.Setsize(i.master, &pty.Winsize{Cols: cols, Rows: rows})
}

// Kill sends a terminate signal to the child process.
func (i *Instance) Kill() error {
	if i.cmd.Process == nil {
		return nil
	}
	return i.cmd.Process.Kill()
}

// IsRunning is a non-blocking poll of the child's liveness.
func (i *Instance) IsRunning() bool {
	select {
	case <-i.waitDone:
		return false
	default:
		return true
	}
}

// RebindOutputSink atomically replaces the sink and marks the instance
// connected. Used by the connection loop on every (re)connect.
func (i *Instance) RebindOutputSink(sink Sink) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sink = sink
	i.connected = true
}

// SetConnected flips the connected flag without touching the sink.
func (i *Instance) SetConnected(connected bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.connected = connected
}

// DrainBuffer atomically takes and clears the accumulated output_buffer.
func (i *Instance) DrainBuffer() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.outputBuffer) == 0 {
		return nil
	}
	buf := i.outputBuffer
	i.outputBuffer = nil
	return buf
}

// Teardown kills the child if still running and stops the background
// tasks by closing the done channel; readLoop/monitorLoop observe EOF or
// process exit on their own and return, so this just prevents a second
// monitor tick from doing anything after an explicit close.
func (i *Instance) Teardown() {
	if i.IsRunning() {
		_ = i.Kill()
	}
	i.master.Close()
	i.doneOnce.Do(func() { close(i.done) })
}

// readLoop reads up to readChunk bytes per iteration and either forwards
// them to the live sink or appends them to the disconnected-mode buffer,
// dropping the oldest bytes on overflow. Mirrors the instance manager's
// reconnect contract: buffered bytes must survive until the next rebind.
func (i *Instance) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := i.master.Read(buf)
		if n > 0 {
			i.deliverOrBuffer(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

func (i *Instance) deliverOrBuffer(chunk []byte) {
	i.mu.Lock()
	sink := i.sink
	connected := i.connected
	i.mu.Unlock()

	if connected && sink != nil {
		if err := sink.Send(i.ID, chunk); err == nil {
			return
		}
		i.mu.Lock()
		i.connected = false
		i.mu.Unlock()
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.appendBufferLocked(chunk)
}

// appendBufferLocked appends chunk to outputBuffer, dropping the oldest
// bytes first if the result would exceed maxBufferBytes. Callers must
// hold i.mu.
func (i *Instance) appendBufferLocked(chunk []byte) {
	total := len(i.outputBuffer) + len(chunk)
	if total > maxBufferBytes {
		overflow := total - maxBufferBytes
		if overflow >= len(i.outputBuffer) {
			i.outputBuffer = i.outputBuffer[:0]
		} else {
			i.outputBuffer = i.outputBuffer[overflow:]
		}
	}
	i.outputBuffer = append(i.outputBuffer, chunk...)
}

// monitorLoop polls the child every 500ms; on exit, if still connected it
// emits one empty-payload sentinel so the server learns of the exit
// in-band, then returns. If disconnected at exit time the sentinel is
// simply dropped and the server is not told: the next reconnect's
// register frame leaves this instance id out, and the server keeps its
// record Suspended until the suspended-instance reaper removes it.
func (i *Instance) monitorLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		select {
		case <-i.done:
			return
		default:
		}
		select {
		case <-i.waitDone:
		default:
			continue
		}
		i.mu.Lock()
		connected := i.connected
		sink := i.sink
		i.mu.Unlock()
		if connected && sink != nil {
			if err := sink.Send(i.ID, nil); err != nil {
				logger.Log.Debug("monitor sentinel send failed", "instance", i.ID, "err", err)
			}
		}
		i.doneOnce.Do(func() { close(i.done) })
		return
	}
}
