package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupbot/internal/broadcast"
	"groupbot/internal/command"
	"groupbot/internal/inbound"
	"groupbot/internal/session"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

var _ session.Handler = (*Agent)(nil)

// HandleBatch runs on the session loop: normalize, moderate, then route commands.
func (a *Agent) HandleBatch(ctx context.Context, sess transport.Session, batch transport.MessageBatch) {
	msg, err := a.norm.Normalize(ctx, sess, batch)
	if err != nil {
		if errors.Is(err, inbound.ErrNotNotify) || errors.Is(err, inbound.ErrMalformed) {
			a.log.Trace("batch skipped", logx.String("class", string(batch.Class)), logx.Err(err))
			return
		}
		a.log.Warn("inbound message dropped", logx.Err(err))
		return
	}

	if res := a.mod.Enforce(ctx, sess, msg); len(res.Matched) > 0 {
		a.log.Info("moderation applied",
			logx.String("chat", msg.Chat.String()),
			logx.String("sender", msg.Sender.String()),
			logx.Int("matched", len(res.Matched)),
			logx.Int("removed", res.Removed),
			logx.Int("warned", res.Warned),
		)
	}

	if err := a.cmds.Handle(ctx, sess, msg); err != nil {
		if command.Silent(err) {
			a.log.Trace("no command", logx.String("chat", msg.Chat.String()), logx.Err(err))
			return
		}
		a.log.Warn("command failed", logx.String("chat", msg.Chat.String()), logx.Err(err))
	}
}

// onTick is called by the cron ticker. Firing happens on the session loop.
func (a *Agent) onTick(now time.Time) {
	if len(a.sched.Due(broadcast.Clock(now))) == 0 {
		return
	}
	if !a.mgr.Post(func(ctx context.Context, sess transport.Session) {
		a.sched.Fire(ctx, sess, now)
	}) {
		a.log.Warn("broadcast tick dropped", logx.String("clock", broadcast.Clock(now)), logx.String("state", a.mgr.State().String()))
	}
}

var errNotConnected = errors.New("session not connected")

// SendLog forwards an operator log line through the live session.
func (a *Agent) SendLog(ctx context.Context, target, text string) error {
	sess, ok := a.mgr.Current()
	if !ok {
		return errNotConnected
	}
	to, err := transport.ParseJID(target)
	if err != nil {
		return fmt.Errorf("log target: %w", err)
	}
	return sess.SendMessage(ctx, to, transport.OutgoingMessage{Text: text})
}
