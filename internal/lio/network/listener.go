package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// ListenerConfig contains configuration options for the UDP listener.
type ListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Handlers    Handlers
}

// UDPListener receives framed sensor datagrams and dispatches them to
// the configured handlers.
type UDPListener struct {
	cfg  ListenerConfig
	conn *net.UDPConn

	packets int64
	dropped int64
}

// NewUDPListener creates a listener; call Listen to start it.
func NewUDPListener(cfg ListenerConfig) *UDPListener {
	if cfg.LogInterval == 0 {
		cfg.LogInterval = time.Minute
	}
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = 4 << 20
	}
	return &UDPListener{cfg: cfg}
}

// Listen binds the socket and blocks reading datagrams until the
// context is cancelled.
func (l *UDPListener) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", l.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", l.cfg.Address, err)
	}
	l.conn = conn
	defer conn.Close()

	if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
		lio.Opsf("set udp receive buffer: %v", err)
	}
	lio.Opsf("udp listener on %s", l.cfg.Address)

	buf := make([]byte, 1<<16)
	lastLog := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return err
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("udp read: %w", err)
		}

		l.packets++
		if derr := Decode(buf[:n], l.cfg.Handlers); derr != nil {
			l.dropped++
			lio.Tracef("drop datagram: %v", derr)
		}

		if time.Since(lastLog) >= l.cfg.LogInterval {
			lio.Diagf("udp stats: %d packets, %d dropped", l.packets, l.dropped)
			lastLog = time.Now()
		}
	}
}
