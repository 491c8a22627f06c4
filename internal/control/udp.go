/*
Copyright (C) 2026 jkjh8

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkjh8/vp-app/internal/telemetry"
)

// UDPServer accepts the same comma-separated commands as TCP, one
// datagram per command, fire and forget. Effects are observed through
// the TCP/WebSocket push channels, never through a UDP reply.
type UDPServer struct {
	handlers *Handlers
	logger   zerolog.Logger

	mu     sync.Mutex
	pc     net.PacketConn
	closed bool
	wg     sync.WaitGroup
}

// NewUDPServer creates the server. Listen starts it.
func NewUDPServer(h *Handlers, logger zerolog.Logger) *UDPServer {
	return &UDPServer{
		handlers: h,
		logger:   logger.With().Str("component", "udp").Logger(),
	}
}

// Listen binds addr and serves until Close.
func (s *UDPServer) Listen(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", addr, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pc.Close()
		return errors.New("server closed")
	}
	s.pc = pc
	s.mu.Unlock()

	s.logger.Info().Str("addr", pc.LocalAddr().String()).Msg("udp control listening")
	s.wg.Add(1)
	go s.readLoop(ctx, pc)
	return nil
}

func (s *UDPServer) readLoop(ctx context.Context, pc net.PacketConn) {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			if !s.isClosed() {
				s.logger.Error().Err(err).Msg("udp read failed")
			}
			return
		}
		line := strings.TrimSpace(string(buf[:n]))
		if line == "" {
			continue
		}
		name, args := ParseCommand(line)
		telemetry.CommandsTotal.WithLabelValues("udp", name).Inc()

		if _, err := s.handlers.Dispatch(ctx, name, args); err != nil {
			// No reply channel; bad datagrams only get logged.
			s.logger.Warn().Err(err).Str("command", name).
				Str("remote", remote.String()).Msg("datagram dropped")
		}
	}
}

// Close stops the read loop and releases the socket.
func (s *UDPServer) Close() error {
	s.mu.Lock()
	s.closed = true
	pc := s.pc
	s.mu.Unlock()

	var err error
	if pc != nil {
		err = pc.Close()
	}
	s.wg.Wait()
	return err
}

func (s *UDPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
