package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// coreChannels are held for the life of the process. Per-meeting channels
// come and go with dashboard subscriptions, but the job and meeting status
// streams are always live so the first client to connect misses nothing.
var coreChannels = []string{GlobalJobsChannel, GlobalMeetingsChannel}

const (
	// notifyWaitSlice bounds each WaitForNotification call so the receive
	// loop periodically returns to apply queued LISTEN/UNLISTEN requests.
	notifyWaitSlice = 100 * time.Millisecond

	reconnectBackoffMin = time.Second
	reconnectBackoffMax = 30 * time.Second
)

// channelOp is a LISTEN or UNLISTEN request handed to the receive loop.
// The loop is the only goroutine allowed to touch the pgx connection: pgx
// connections are not safe for concurrent use, and running Exec while
// WaitForNotification blocks corrupts the protocol stream.
type channelOp struct {
	verb    string // "LISTEN" or "UNLISTEN"
	channel string
	done    chan error
}

// NotifyListener owns the dedicated LISTEN connection that feeds status
// events into the local ConnectionManager. One per process: a transition
// published via pg_notify on any pod lands here and fans out to the
// WebSocket clients connected to this pod.
type NotifyListener struct {
	connString string
	manager    *ConnectionManager

	conn   *pgx.Conn
	connMu sync.Mutex

	// channels is the set currently LISTENed on, so a reconnect can restore
	// all of it (core channels plus whatever meetings are being watched).
	channels   map[string]bool
	channelsMu sync.RWMutex

	ops     chan channelOp
	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewNotifyListener creates a listener over its own database connection.
// NOTIFY is database-level, so connString must not pin a schema search_path.
func NewNotifyListener(connString string, manager *ConnectionManager) *NotifyListener {
	return &NotifyListener{
		connString: connString,
		manager:    manager,
		channels:   make(map[string]bool),
		ops:        make(chan channelOp, 16),
	}
}

// Start connects, LISTENs on the core channels, and begins receiving.
func (l *NotifyListener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("connecting events listener: %w", err)
	}

	for _, ch := range coreChannels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(ctx)
			return fmt.Errorf("listen on %s: %w", ch, err)
		}
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.channelsMu.Lock()
	for _, ch := range coreChannels {
		l.channels[ch] = true
	}
	l.channelsMu.Unlock()

	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receive(loopCtx)
	}()

	slog.Info("Events listener started", "channels", coreChannels)
	return nil
}

// Subscribe adds a channel (normally a per-meeting channel from a dashboard
// client) to the LISTEN set. The request is executed by the receive loop;
// when Subscribe returns nil the LISTEN is already active, so a confirmed
// dashboard subscription never races its first event.
func (l *NotifyListener) Subscribe(ctx context.Context, channel string) error {
	l.channelsMu.Lock()
	if l.channels[channel] {
		l.channelsMu.Unlock()
		return nil
	}
	l.channelsMu.Unlock()

	if !l.running.Load() {
		return fmt.Errorf("events connection not established")
	}

	if err := l.execOp(ctx, channelOp{verb: "LISTEN", channel: channel, done: make(chan error, 1)}); err != nil {
		return fmt.Errorf("LISTEN %s: %w", channel, err)
	}

	l.channelsMu.Lock()
	l.channels[channel] = true
	l.channelsMu.Unlock()
	slog.Debug("Listening on events channel", "channel", channel)
	return nil
}

// Unsubscribe drops a channel from the LISTEN set once its last dashboard
// watcher disconnects. Core channels are never unsubscribed.
func (l *NotifyListener) Unsubscribe(ctx context.Context, channel string) error {
	for _, core := range coreChannels {
		if channel == core {
			return nil
		}
	}

	l.channelsMu.Lock()
	if !l.channels[channel] {
		l.channelsMu.Unlock()
		return nil
	}
	l.channelsMu.Unlock()

	if !l.running.Load() {
		return nil
	}

	if err := l.execOp(ctx, channelOp{verb: "UNLISTEN", channel: channel, done: make(chan error, 1)}); err != nil {
		return fmt.Errorf("UNLISTEN %s: %w", channel, err)
	}

	l.channelsMu.Lock()
	delete(l.channels, channel)
	l.channelsMu.Unlock()
	return nil
}

// execOp hands an op to the receive loop and waits for its result.
func (l *NotifyListener) execOp(ctx context.Context, op channelOp) error {
	select {
	case l.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// receive is the connection's owning loop: it alternates between waiting
// for notifications and applying queued channel ops, and reconnects when
// the connection drops.
func (l *NotifyListener) receive(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.applyPendingOps(ctx)

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()

		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, notifyWaitSlice)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return // shutting down
			}
			if waitCtx.Err() != nil {
				continue // wait slice elapsed; check for pending ops
			}
			slog.Error("Events receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		l.manager.Broadcast(notification.Channel, []byte(notification.Payload))
	}
}

// applyPendingOps drains queued LISTEN/UNLISTEN requests onto the
// connection.
func (l *NotifyListener) applyPendingOps(ctx context.Context) {
	for {
		select {
		case op := <-l.ops:
			l.connMu.Lock()
			conn := l.conn
			l.connMu.Unlock()

			if conn == nil {
				op.done <- fmt.Errorf("events connection not established")
				continue
			}

			_, err := conn.Exec(ctx, op.verb+" "+pgx.Identifier{op.channel}.Sanitize())
			op.done <- err
		default:
			return
		}
	}
}

// reconnect re-establishes the connection with doubling backoff and
// restores the full LISTEN set, core channels included.
func (l *NotifyListener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := reconnectBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("Events reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, reconnectBackoffMax)
			continue
		}
		l.conn = conn

		l.channelsMu.RLock()
		for ch := range l.channels {
			if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
				slog.Error("Re-LISTEN after reconnect failed", "channel", ch, "error", err)
			}
		}
		l.channelsMu.RUnlock()

		slog.Info("Events listener reconnected")
		return
	}
}

// Stop signals the receive loop to exit, waits for it, then closes the
// connection. Ordering matters: closing while WaitForNotification is in
// flight races the pgx internals.
func (l *NotifyListener) Stop(ctx context.Context) {
	l.running.Store(false)

	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}
