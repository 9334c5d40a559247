package action

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Blocker enforces a network block for a single address. Implementations are
// expected to be idempotent.
type Blocker interface {
	Block(ctx context.Context, ip string) error
}

// SocketBlocker hands bans to the privileged executor over its Unix socket
type SocketBlocker struct {
	socketPath string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewSocketBlocker(socketPath string, logger *slog.Logger) *SocketBlocker {
	return &SocketBlocker{
		socketPath: socketPath,
		timeout:    5 * time.Second,
		logger:     logger,
	}
}

func (b *SocketBlocker) Block(ctx context.Context, ip string) error {
	// Strict input validation (prevent command injection)
	if !isValidIP(ip) {
		return fmt.Errorf("refusing to ban invalid address %q", ip)
	}

	d := net.Dialer{Timeout: b.timeout}
	conn, err := d.DialContext(ctx, "unix", b.socketPath)
	if err != nil {
		return fmt.Errorf("connect to executor %s: %w", b.socketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(b.timeout))
	if _, err := fmt.Fprintf(conn, "ban %s\n", ip); err != nil {
		return fmt.Errorf("send ban for %s: %w", ip, err)
	}
	b.logger.Info("ban sent to executor", "ip", ip)
	return nil
}

// LogBlocker is the safe-mode blocker: it only reports what would be executed
type LogBlocker struct {
	logger *slog.Logger
}

func NewLogBlocker(logger *slog.Logger) *LogBlocker {
	return &LogBlocker{logger: logger}
}

func (b *LogBlocker) Block(ctx context.Context, ip string) error {
	if !isValidIP(ip) {
		return fmt.Errorf("refusing to ban invalid address %q", ip)
	}
	b.logger.Info("safe mode, would execute", "command", fmt.Sprintf("iptables -A INPUT -s %s -j DROP", ip))
	return nil
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
