package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ClientConfig configures the watcher side of the heartbeat link.
type ClientConfig struct {
	Path     string
	SenderID uint32
	Interval time.Duration
	Monitor  *Monitor
	// MaxRedial caps the delay between reconnect attempts.
	MaxRedial time.Duration
}

// Client dials the runtime's heartbeat socket and keeps redialing while the
// runtime is away.
type Client struct {
	cfg  ClientConfig
	seq  atomic.Uint64
	peer Cell
	log  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRedial <= 0 {
		cfg.MaxRedial = cfg.Interval
	}
	return &Client{
		cfg: cfg,
		log: slog.With("component", "heartbeat-client", "path", cfg.Path),
	}
}

// Peer returns the last record received from the runtime.
func (c *Client) Peer() (Record, bool) { return c.peer.Load() }

// Run connects, exchanges beats and reconnects until ctx ends. On exit it
// says bye on the live connection, if any.
func (c *Client) Run(ctx context.Context) error {
	redial := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.cfg.Interval/4),
		backoff.WithMaxInterval(c.cfg.MaxRedial),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := redial.NextBackOff()
		if err == nil {
			redial.Reset()
			wait = redial.NextBackOff()
		} else {
			c.log.Debug("heartbeat session ended", "err", err, "retry_in", wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection. A nil error means the connection was
// established and later ended.
func (c *Client) session(ctx context.Context) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Interval)
	conn, err := d.DialContext(dialCtx, "unix", c.cfg.Path)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	l := &link{
		conn:     conn,
		senderID: c.cfg.SenderID,
		interval: c.cfg.Interval,
		seq:      &c.seq,
		monitor:  c.cfg.Monitor,
		peer:     &c.peer,
		log:      c.log,
	}
	hello, err := l.handshake(true)
	if err != nil {
		return err
	}
	c.log.Info("connected to runtime", "peer_id", hello.SenderID)

	intentional, err := l.run(ctx)
	if ctx.Err() != nil {
		if err := l.send(KindBye); err != nil {
			c.log.Debug("send bye failed", "err", err)
		}
		return nil
	}
	if intentional {
		c.log.Info("runtime said goodbye")
	} else {
		c.log.Warn("runtime connection lost", "err", err)
	}
	c.cfg.Monitor.Closed(intentional)
	if err != nil && !errors.Is(err, ErrConnectionLost) {
		return err
	}
	return nil
}
