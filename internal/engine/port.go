// Package engine supervises the out-of-process playback engine and owns
// the newline-delimited JSON channel in both directions.
package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/telemetry"
)

var (
	// ErrAlreadyRunning is returned by Start when a process handle is held.
	ErrAlreadyRunning = errors.New("engine already running")
	// ErrNotRunning is returned by Send when no process is held.
	ErrNotRunning = errors.New("engine not running")
)

// maxLineSize bounds one engine output line. The info heartbeat carries
// the whole status document, so this is generous.
const maxLineSize = 1024 * 1024

// Config controls how the subprocess is launched.
type Config struct {
	Bin  string
	Args []string
}

// Port owns the lifecycle of exactly one playback-engine subprocess.
//
// Inbound lines are forwarded to OnLine in stream order. An exit that was
// not requested through Stop is reported through OnExit; the engine is
// load-bearing, so the caller escalates that to process shutdown.
type Port struct {
	cfg    Config
	logger zerolog.Logger

	// OnLine receives each complete stdout line. Set before Start.
	OnLine func(line string)
	// OnExit is called when the subprocess terminates without Stop
	// having been requested. Set before Start.
	OnExit func(exitCode int)

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stopping bool

	// wmu serializes stdin writes on its own so a wedged engine blocks
	// only senders, never Stop.
	wmu sync.Mutex
}

// New creates an engine port.
func New(cfg Config, logger zerolog.Logger) *Port {
	return &Port{
		cfg:    cfg,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Start spawns the engine subprocess and wires its streams. The initial
// state document is sent as the first command so the engine comes up with
// the persisted display configuration. Fails with ErrAlreadyRunning if a
// process handle is already held.
func (p *Port) Start(initial map[string]any) error {
	p.mu.Lock()

	if p.cmd != nil {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}

	cmd := exec.Command(p.cfg.Bin, p.cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("engine stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("engine stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stopping = false
	p.mu.Unlock()
	telemetry.EngineUp.Set(1)

	p.logger.Info().Int("pid", cmd.Process.Pid).Str("bin", p.cfg.Bin).Msg("engine started")

	go p.consumeStdout(stdout)
	go p.consumeStderr(stderr)
	go p.wait(cmd)

	if initial != nil {
		if err := p.write(stdin, Initialize(initial)); err != nil {
			p.logger.Error().Err(err).Msg("sending initial state failed")
		}
	}
	return nil
}

// Running reports whether a process handle is held.
func (p *Port) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

// Send serializes the command to one JSON line and writes it atomically
// to the engine's stdin. With no process held it logs and returns
// ErrNotRunning; the command is dropped, never queued. The stdin handle
// is copied out under the lock and written outside it, so an engine
// that stops draining its pipe cannot wedge Stop or Running behind a
// blocked write.
func (p *Port) Send(cmd Command) error {
	p.mu.Lock()
	stdin := p.stdin
	running := p.cmd != nil
	p.mu.Unlock()

	if !running {
		p.logger.Warn().Str("command", cmd.Name).Msg("engine not running, command dropped")
		return ErrNotRunning
	}
	return p.write(stdin, cmd)
}

func (p *Port) write(w io.Writer, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command %s: %w", cmd.Name, err)
	}
	// Single write call under wmu so concurrent senders cannot
	// interleave lines.
	p.wmu.Lock()
	_, err = w.Write(append(data, '\n'))
	p.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("write command %s: %w", cmd.Name, err)
	}
	p.logger.Debug().Str("command", cmd.Name).Msg("command sent")
	return nil
}

// Stop signals termination to the subprocess. Idempotent: stopping an
// already-stopped engine is a no-op.
func (p *Port) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		return
	}
	p.stopping = true
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	p.logger.Info().Msg("engine stop requested")
}

func (p *Port) consumeStdout(r io.Reader) {
	// bufio.Scanner buffers partial lines across reads.
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if p.OnLine != nil {
			p.OnLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Error().Err(err).Msg("engine stdout read failed")
	}
}

func (p *Port) consumeStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.logger.Error().Str("stream", "stderr").Msg(scanner.Text())
	}
}

func (p *Port) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	requested := p.stopping
	p.cmd = nil
	p.stdin = nil
	p.mu.Unlock()
	telemetry.EngineUp.Set(0)

	exitCode := 0
	if exitErr := new(exec.ExitError); errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	if requested {
		p.logger.Info().Int("code", exitCode).Msg("engine exited")
		return
	}

	// Unexpected exit: the engine is load-bearing and there is no safe way
	// to resume mid-playback state, so escalate instead of restarting.
	p.logger.Error().Int("code", exitCode).Msg("engine exited unexpectedly")
	if p.OnExit != nil {
		p.OnExit(exitCode)
	}
}
