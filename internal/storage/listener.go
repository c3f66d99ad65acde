package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// DefaultNotifyChannel is the channel the insert trigger notifies on
const DefaultNotifyChannel = "missions_created"

// Listener wakes the sync loop when Postgres reports a new mission.
// Notifications are hints only: a lost one is covered by the next tick.
type Listener struct {
	dsn      string
	channel  string
	onNotify func(missionID string)
	listener *pq.Listener
}

// NewListener creates a listener; onNotify receives the new mission id,
// or "" after a reconnect when notifications may have been missed
func NewListener(dsn, channel string, onNotify func(missionID string)) *Listener {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &Listener{
		dsn:      dsn,
		channel:  channel,
		onNotify: onNotify,
	}
}

// Start subscribes to the channel and dispatches notifications until ctx is done
func (l *Listener) Start(ctx context.Context) error {
	l.listener = pq.NewListener(l.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			slog.Warn("mission listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			slog.Info("mission listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			slog.Warn("mission listener connection attempt failed", "error", err)
		}
	})

	if err := l.listener.Listen(l.channel); err != nil {
		_ = l.listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}

	slog.Info("mission listener started", "channel", l.channel)

	go l.run(ctx)
	return nil
}

func (l *Listener) run(ctx context.Context) {
	defer func() {
		if err := l.listener.Close(); err != nil {
			slog.Warn("failed to close mission listener", "error", err)
		}
		slog.Info("mission listener stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.listener.Notify:
			l.dispatch(n)
		case <-time.After(90 * time.Second):
			// Keep the connection alive and detect silent drops
			go func() {
				if err := l.listener.Ping(); err != nil {
					slog.Warn("mission listener ping failed", "error", err)
				}
			}()
		}
	}
}

// dispatch forwards a notification; a nil notification means the
// connection was re-established
func (l *Listener) dispatch(n *pq.Notification) {
	if n == nil {
		l.onNotify("")
		return
	}
	if n.Channel != l.channel {
		return
	}
	slog.Debug("mission insert notification", "mission_id", n.Extra)
	l.onNotify(n.Extra)
}
