package action

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes a system command
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Executor runs as root and listens for ban requests over a Unix socket
type Executor struct {
	SocketPath string
	run        Runner
	logger     *slog.Logger
	mu         sync.Mutex // serialises iptables invocations
}

func NewExecutor(socketPath string, logger *slog.Logger) *Executor {
	if socketPath == "" {
		socketPath = "/run/honeyguard.sock"
	}
	return &Executor{SocketPath: socketPath, run: execRunner, logger: logger}
}

// Serve accepts connections until ctx is cancelled
func (e *Executor) Serve(ctx context.Context) error {
	// Clean up existing socket
	if _, err := os.Stat(e.SocketPath); err == nil {
		os.Remove(e.SocketPath)
	}

	ln, err := net.Listen("unix", e.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(e.SocketPath)

	// Analyzer and executor share a group
	os.Chmod(e.SocketPath, 0660)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	e.logger.Info("executor listening", "socket", e.SocketPath)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.logger.Warn("executor accept error", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.handleConnection(ctx, conn)
		}()
	}
}

func (e *Executor) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		action := parts[0]
		target := parts[1]

		// Final safety check: target MUST be a valid IP
		if net.ParseIP(target) == nil {
			e.logger.Warn("executor rejected invalid target", "target", target)
			continue
		}

		switch action {
		case "ban":
			e.banIP(ctx, target)
		case "unban":
			e.unbanIP(ctx, target)
		default:
			e.logger.Warn("executor rejected unknown action", "action", action)
		}
	}
}

func (e *Executor) banIP(ctx context.Context, ip string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// -C succeeds when the rule already exists
	if err := e.run(ctx, "iptables", "-C", "INPUT", "-s", ip, "-j", "DROP"); err == nil {
		e.logger.Info("executor: already banned", "ip", ip)
		return
	}
	e.logger.Info("executor: banning", "ip", ip)
	if err := e.run(ctx, "iptables", "-A", "INPUT", "-s", ip, "-j", "DROP"); err != nil {
		e.logger.Error("executor: ban failed", "ip", ip, "error", err)
	}
}

func (e *Executor) unbanIP(ctx context.Context, ip string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("executor: unbanning", "ip", ip)
	if err := e.run(ctx, "iptables", "-D", "INPUT", "-s", ip, "-j", "DROP"); err != nil {
		e.logger.Error("executor: unban failed", "ip", ip, "error", err)
	}
}
