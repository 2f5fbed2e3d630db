// Package sdnotify reports readiness, status and watchdog pings to systemd.
// Outside a systemd unit (no NOTIFY_SOCKET) every call is a no-op.
package sdnotify

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "groupbot/pkg/logx"
)

type Notifier struct {
	log       logx.Logger
	readyOnce sync.Once

	// notify is daemon.SdNotify; swapped in tests.
	notify func(unsetEnv bool, state string) (bool, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify}
}

func (n *Notifier) send(state string) {
	if n == nil || n.notify == nil {
		return
	}
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify sent", logx.String("state", state))
	}
}

// Ready sends READY=1 the first time it is called.
func (n *Notifier) Ready() {
	if n == nil {
		return
	}
	n.readyOnce.Do(func() { n.send(daemon.SdNotifyReady) })
}

func (n *Notifier) Status(status string) { n.send("STATUS=" + status) }

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx is done.
// It returns immediately when the watchdog is not enabled for this process.
func (n *Notifier) Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}
	return n.pingEvery(ctx, interval/2)
}

func (n *Notifier) pingEvery(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
