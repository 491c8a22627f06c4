package engine

import (
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCommandMarshalFlattensPayload(t *testing.T) {
	data, err := json.Marshal(SetTime(15000))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["command"] != "set_time" {
		t.Fatalf("command = %v", obj["command"])
	}
	if obj["time"] != float64(15000) {
		t.Fatalf("time = %v", obj["time"])
	}
}

func TestCommandMarshalOmitsNilPayloadKeys(t *testing.T) {
	cmd := Command{Name: "playid", Payload: map[string]any{"file": nil, "idx": 1}}
	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := obj["file"]; ok {
		t.Fatalf("nil key not omitted: %s", data)
	}
	if obj["idx"] != float64(1) {
		t.Fatalf("idx = %v", obj["idx"])
	}
}

func TestCommandMarshalRejectsEmptyName(t *testing.T) {
	if _, err := json.Marshal(Command{}); err == nil {
		t.Fatal("expected error for unnamed command")
	}
}

func TestSendWithoutProcessReturnsNotRunning(t *testing.T) {
	p := New(Config{Bin: "vp-player"}, zerolog.Nop())
	if err := p.Send(Play(0)); err != ErrNotRunning {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestStopWithoutProcessIsNoop(t *testing.T) {
	p := New(Config{Bin: "vp-player"}, zerolog.Nop())
	p.Stop()
	p.Stop()
	if p.Running() {
		t.Fatal("Running() = true with no process")
	}
}

func TestConsumeStdoutForwardsCompleteLines(t *testing.T) {
	p := New(Config{}, zerolog.Nop())

	var lines []string
	p.OnLine = func(line string) { lines = append(lines, line) }

	input := "{\"type\":\"info\",\"data\":{}}\n\n{\"type\":\"event\",\"data\":{\"event\":\"end_reached\"}}\n"
	p.consumeStdout(strings.NewReader(input))

	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[1], "end_reached") {
		t.Fatalf("second line = %q", lines[1])
	}
}

// stuckWriter blocks Write until Close, like an engine that stopped
// draining its stdin pipe.
type stuckWriter struct {
	once     sync.Once
	released chan struct{}
}

func newStuckWriter() *stuckWriter {
	return &stuckWriter{released: make(chan struct{})}
}

func (w *stuckWriter) Write(p []byte) (int, error) {
	<-w.released
	return 0, io.ErrClosedPipe
}

func (w *stuckWriter) Close() error {
	w.once.Do(func() { close(w.released) })
	return nil
}

func TestStopNotBlockedByWedgedWrite(t *testing.T) {
	p := New(Config{Bin: "vp-player"}, zerolog.Nop())
	stdin := newStuckWriter()
	p.mu.Lock()
	p.cmd = &exec.Cmd{}
	p.stdin = stdin
	p.mu.Unlock()

	sendDone := make(chan error, 1)
	go func() { sendDone <- p.Send(Pause()) }()

	// Give the sender time to reach the blocked write.
	time.Sleep(20 * time.Millisecond)

	stopDone := make(chan struct{})
	go func() {
		p.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked behind a wedged stdin write")
	}

	select {
	case err := <-sendDone:
		if err == nil {
			t.Fatal("expected write error after stdin close")
		}
	case <-time.After(time.Second):
		t.Fatal("Send never returned after stdin close")
	}
}
