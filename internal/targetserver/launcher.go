// Package targetserver starts the chat application under test before a run
// and stops it afterwards.
package targetserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/common"
)

const (
	pollInterval = 500 * time.Millisecond
	readyTimeout = 2 * time.Second
	stopGrace    = 5 * time.Second
)

// ErrNotReady is returned when the target does not answer within the startup timeout
var ErrNotReady = errors.New("target server not ready")

// Options describes how to reach or start the target
type Options struct {
	Command        []string
	Dir            string
	URL            string
	ReuseExisting  bool
	StartupTimeout time.Duration
	LogFile        string
}

// OptionsFromConfig converts the [target_server] section
func OptionsFromConfig(c common.TargetServerConfig) Options {
	return Options{
		Command:        c.Command,
		Dir:            c.Dir,
		URL:            c.URL,
		ReuseExisting:  c.ReuseExisting,
		StartupTimeout: c.StartupTimeoutDuration(),
		LogFile:        c.LogFile,
	}
}

// Server is a target application, either launched here or already running
type Server struct {
	opts   Options
	logger arbor.ILogger
	client *http.Client

	cmd      *exec.Cmd
	exited   chan struct{}
	exitErr  error
	logFile  *os.File
	stopOnce sync.Once
	stopErr  error
}

// New creates a Server. Nothing is started until Start.
func New(opts Options, logger arbor.ILogger) *Server {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 60 * time.Second
	}
	return &Server{
		opts:   opts,
		logger: logger,
		client: &http.Client{Timeout: readyTimeout},
	}
}

// URL returns the address polled for readiness
func (s *Server) URL() string {
	return s.opts.URL
}

// Launched reports whether Start spawned a process that Stop will terminate
func (s *Server) Launched() bool {
	return s.cmd != nil
}

// Start makes sure the target answers on its URL. A running target is reused
// when ReuseExisting is set; otherwise Command is spawned and polled until it
// responds, exits or the startup timeout passes.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.URL == "" {
		return fmt.Errorf("target server url is required")
	}

	if s.ready(ctx) {
		if !s.opts.ReuseExisting {
			return fmt.Errorf("%s is already in use and reuse_existing is false", s.opts.URL)
		}
		s.logger.Info().Str("url", s.opts.URL).Msg("Reusing running target server")
		return nil
	}

	if len(s.opts.Command) == 0 {
		return fmt.Errorf("%w: %s is not responding and no command is configured", ErrNotReady, s.opts.URL)
	}

	if err := s.spawn(); err != nil {
		return err
	}

	if err := s.waitReady(ctx); err != nil {
		_ = s.Stop()
		return err
	}
	return nil
}

func (s *Server) spawn() error {
	cmd := exec.Command(s.opts.Command[0], s.opts.Command[1:]...)
	cmd.Dir = s.opts.Dir
	setProcessGroup(cmd)

	if s.opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.opts.LogFile), 0755); err != nil {
			return fmt.Errorf("failed to create target server log directory: %w", err)
		}
		f, err := os.OpenFile(s.opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open target server log: %w", err)
		}
		s.logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		s.closeLog()
		return fmt.Errorf("failed to start target server: %w", err)
	}

	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()

	s.logger.Info().
		Strs("command", s.opts.Command).
		Int("pid", cmd.Process.Pid).
		Msg("Target server started")
	return nil
}

func (s *Server) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(s.opts.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if s.ready(ctx) {
			s.logger.Info().Str("url", s.opts.URL).Msg("Target server ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.exited:
			return fmt.Errorf("%w: process exited before responding: %v", ErrNotReady, s.exitErr)
		case <-deadline.C:
			return fmt.Errorf("%w: %s did not respond within %v", ErrNotReady, s.opts.URL, s.opts.StartupTimeout)
		case <-ticker.C:
		}
	}
}

// ready reports whether the URL answers. 2xx, 3xx and 400-403 count as up.
func (s *Server) ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode <= http.StatusForbidden
}

// Stop terminates a launched process and everything it spawned, interrupting
// the process group first and killing what is left after a grace period. It
// does nothing for a reused target.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		if s.cmd == nil {
			return
		}
		defer s.closeLog()
		pid := s.cmd.Process.Pid

		select {
		case <-s.exited:
		default:
			if err := interruptProcessGroup(s.cmd); err != nil {
				s.logger.Debug().Err(err).Int("pid", pid).Msg("Interrupt failed, killing target server")
			}
			select {
			case <-s.exited:
			case <-time.After(stopGrace):
				s.logger.Warn().Int("pid", pid).Msg("Target server ignored interrupt, killing")
			}
		}

		// Children may outlive the leader, e.g. a dev server forked by npm
		if err := killProcessGroup(s.cmd); err != nil {
			s.stopErr = fmt.Errorf("failed to kill target server: %w", err)
			return
		}

		select {
		case <-s.exited:
		case <-time.After(stopGrace):
			s.stopErr = fmt.Errorf("target server (pid %d) did not exit after kill", pid)
			return
		}
		s.logger.Info().Int("pid", pid).Msg("Target server stopped")
	})
	return s.stopErr
}

func (s *Server) closeLog() {
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}
