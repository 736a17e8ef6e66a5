package pty

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shelltether/shelltether/internal/tunnelerr"
)

type recordingSink struct {
	mu   sync.Mutex
	data map[string][][]byte
	fail bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{data: make(map[string][][]byte)}
}

func (s *recordingSink) Send(id string, data []byte) error {
	if s.fail {
		return errFakeSinkClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = append(s.data[id], append([]byte(nil), data...))
	return nil
}

var errFakeSinkClosed = &sinkClosedErr{}

type sinkClosedErr struct{}

func (*sinkClosedErr) Error() string { return "sink closed" }

func TestManagerCreateRejectsDuplicateID(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	if _, err := m.Create("a", dir, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Create("a", dir, nil); err == nil {
		t.Fatal("expected error for duplicate id")
	}
	m.Close("a")
}

func TestManagerCreateRejectsNonDirectory(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	file := dir + "/not-a-dir"
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("a", file, nil); err == nil {
		t.Fatal("expected error for non-directory cwd")
	}
}

func TestManagerDrainAllOmitsEmpty(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	inst, err := m.Create("a", dir, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close("a")

	inst.SetConnected(false)
	time.Sleep(50 * time.Millisecond) // let shell banner, if any, flow into the buffer

	// An instance with nothing buffered must be left out of the result.
	m.mu.Lock()
	m.instances["idle"] = &Instance{ID: "idle"}
	m.mu.Unlock()

	drained := m.DrainAll()
	if _, ok := drained["idle"]; ok {
		t.Fatal("drain should not report instances with no buffered bytes")
	}
}

func TestManagerListRunningInfoSkipsDeadChildren(t *testing.T) {
	m := NewManager()
	dir := t.TempDir()
	inst, err := m.Create("a", dir, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer m.Close("a")

	infos := m.ListRunningInfo()
	found := false
	for _, i := range infos {
		if i.ID == "a" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected instance a to be reported as running")
	}

	if err := inst.Kill(); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-inst.waitDone:
	case <-time.After(3 * time.Second):
		t.Fatal("child did not exit after kill")
	}
	for _, i := range m.ListRunningInfo() {
		if i.ID == "a" {
			t.Fatal("expected exited instance a to be skipped")
		}
	}
}

func TestManagerWriteUnknownIDReturnsInstanceNotFound(t *testing.T) {
	m := NewManager()
	err := m.Write("no-such-instance", []byte("hi"))
	if !errors.Is(err, tunnelerr.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestManagerResizeUnknownIDReturnsInstanceNotFound(t *testing.T) {
	m := NewManager()
	err := m.Resize("no-such-instance", 80, 24)
	if !errors.Is(err, tunnelerr.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

