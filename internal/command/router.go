// Package command answers admin commands posted in groups.
//
// Commands are recognized by a small fixed grammar (see Parse). Only group
// admins get answers; anyone else is ignored silently. Direct messages get a
// single fixed notice whatever they contain.
package command

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"groupbot/internal/broadcast"
	"groupbot/internal/inbound"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// Request is the per-command state passed through the middleware chain.
type Request struct {
	Msg     inbound.Message
	Cmd     Command
	Session transport.Session
	ReqID   string
	Logger  logx.Logger
}

type Router struct {
	log      logx.Logger
	store    storage.Store
	sched    *broadcast.Scheduler
	timeout  time.Duration
	handlers map[Kind]HandlerFunc
}

type Option func(*Router)

func WithLogger(log logx.Logger) Option { return func(r *Router) { r.log = log } }
func WithStore(st storage.Store) Option { return func(r *Router) { r.store = st } }

// WithTimeout bounds each command handler; 0 disables the bound.
func WithTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

func NewRouter(sched *broadcast.Scheduler, opts ...Option) *Router {
	r := &Router{sched: sched}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "command"))

	r.handlers = map[Kind]HandlerFunc{
		KindMenu:      r.handleMenu,
		KindRules:     r.handleRules,
		KindInfo:      r.handleInfo,
		KindSchedule:  r.handleSchedule,
		KindTagAll:    r.handleTagAll,
		KindTagAdmins: r.handleTagAdmins,
		KindKick:      r.handleKick,
	}
	return r
}

// Handle routes one normalized message. Unknown text, non-admin senders and
// malformed schedules produce no reply; the returned error says why.
func (r *Router) Handle(ctx context.Context, sess transport.Session, msg inbound.Message) error {
	if msg.FromSelf {
		return nil
	}
	if !msg.IsGroup {
		return sess.SendMessage(ctx, msg.Chat, transport.OutgoingMessage{Text: DirectReply})
	}

	cmd, err := Parse(msg.Text)
	if err != nil {
		if errors.Is(err, ErrScheduleSyntax) {
			r.log.Debug("ignored malformed schedule", logx.String("chat", msg.Chat.String()), logx.Err(err))
		}
		return err
	}
	if !msg.IsAdmin {
		return ErrPermissionDenied
	}

	h, ok := r.handlers[cmd.Kind]
	if !ok {
		return ErrUnknownCommand
	}

	rid := uuid.NewString()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.String("chat", msg.Chat.String()),
		logx.String("from", msg.Sender.String()),
		logx.String("cmd", string(cmd.Kind)),
	)
	req := &Request{
		Msg:     msg,
		Cmd:     cmd,
		Session: sess,
		ReqID:   rid,
		Logger:  reqLog,
	}
	final := Chain(
		h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.timeout),
	)
	return final(ctx, req)
}

// Silent reports whether err is an expected outcome that needs no logging above debug.
func Silent(err error) bool {
	return err == nil ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrScheduleSyntax)
}
