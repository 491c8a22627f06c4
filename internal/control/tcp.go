/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/broadcast"
	"github.com/jkjh8/vp-app/internal/telemetry"
)

// connOutboxSize bounds the per-connection write queue. A client that
// stops reading loses pushes instead of stalling the broadcaster.
const connOutboxSize = 32

// TCPServer speaks the plaintext control protocol: newline-terminated,
// comma-separated commands, one single-line reply each. Every live
// connection is attached to the broadcaster so state pushes reach TCP
// clients out of band.
type TCPServer struct {
	handlers *Handlers
	caster   *broadcast.Broadcaster
	logger   zerolog.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*tcpConn]struct{}
	closed bool

	wg sync.WaitGroup
}

// NewTCPServer creates the server. Listen starts it.
func NewTCPServer(h *Handlers, caster *broadcast.Broadcaster, logger zerolog.Logger) *TCPServer {
	return &TCPServer{
		handlers: h,
		caster:   caster,
		logger:   logger.With().Str("component", "tcp").Logger(),
		conns:    make(map[*tcpConn]struct{}),
	}
}

// Listen binds addr and serves until Close.
func (s *TCPServer) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server closed")
	}
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("tcp control listening")
	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

func (s *TCPServer) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.isClosed() {
				s.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}
		c := newTCPConn(conn)
		s.track(c)
		s.wg.Add(1)
		go s.serveConn(ctx, c)
	}
}

func (s *TCPServer) serveConn(ctx context.Context, c *tcpConn) {
	defer s.wg.Done()
	telemetry.TCPConnections.Inc()
	s.caster.Attach(c)
	remote := c.conn.RemoteAddr().String()
	s.logger.Debug().Str("remote", remote).Msg("client connected")

	defer func() {
		s.caster.Detach(c)
		s.untrack(c)
		c.close()
		telemetry.TCPConnections.Dec()
		s.logger.Debug().Str("remote", remote).Msg("client disconnected")
	}()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, args := ParseCommand(line)
		telemetry.CommandsTotal.WithLabelValues("tcp", name).Inc()

		reply, err := s.handlers.Dispatch(ctx, name, args)
		switch {
		case errors.Is(err, ErrUnknownCommand):
			reply = "Unknown command: " + name
		case err != nil:
			s.logger.Warn().Err(err).Str("command", name).Str("remote", remote).Msg("command failed")
			reply = "Error: " + err.Error()
		}
		c.Notify(reply)
	}
	if err := scanner.Err(); err != nil && !s.isClosed() {
		s.logger.Debug().Err(err).Str("remote", remote).Msg("read ended")
	}
}

// Addr reports the bound listener address, nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting and drops all live connections.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.ln
	conns := make([]*tcpConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	return err
}

func (s *TCPServer) track(c *tcpConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *TCPServer) untrack(c *tcpConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ParseCommand splits one protocol line into the command name and its
// positional arguments. The name is case-insensitive.
func ParseCommand(line string) (string, []string) {
	parts := strings.Split(line, ",")
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	return name, parts[1:]
}

// tcpConn serializes all writes to one client through a bounded outbox
// so replies and broadcast pushes never interleave mid-line.
type tcpConn struct {
	conn net.Conn
	out  chan string
	once sync.Once
	done chan struct{}
}

func newTCPConn(conn net.Conn) *tcpConn {
	c := &tcpConn{
		conn: conn,
		out:  make(chan string, connOutboxSize),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *tcpConn) writeLoop() {
	for {
		select {
		case line := <-c.out:
			if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Notify implements broadcast.Notifier. A full outbox drops the line.
func (c *tcpConn) Notify(line string) {
	select {
	case c.out <- line:
	case <-c.done:
	default:
	}
}

func (c *tcpConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
