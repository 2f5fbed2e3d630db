package moderation

import (
	"context"
	"fmt"
	"time"

	"groupbot/internal/eventbus"
	"groupbot/internal/inbound"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// Result summarizes one Enforce call.
type Result struct {
	Matched []string
	Removed int
	Warned  int
}

// Action is the payload of eventbus.TopicModeration events.
type Action struct {
	Group  string `json:"group"`
	Sender string `json:"sender"`
	Word   string `json:"word"`
	OK     bool   `json:"ok"`
}

type Engine struct {
	matcher       *Matcher
	log           logx.Logger
	store         storage.Store
	bus           eventbus.Bus
	actionTimeout time.Duration
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }
func WithStore(st storage.Store) Option { return func(e *Engine) { e.store = st } }
func WithBus(bus eventbus.Bus) Option { return func(e *Engine) { e.bus = bus } }
func WithActionTimeout(d time.Duration) Option { return func(e *Engine) { e.actionTimeout = d } }

func NewEngine(m *Matcher, opts ...Option) *Engine {
	e := &Engine{matcher: m}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "moderation"))
	return e
}

// Applies reports whether msg is subject to moderation at all.
func Applies(msg inbound.Message, self transport.JID) bool {
	if !msg.IsGroup || msg.FromSelf || msg.IsAdmin {
		return false
	}
	return self.IsEmpty() || msg.Sender != self
}

// Enforce runs moderation for one normalized message.
func (e *Engine) Enforce(ctx context.Context, sess transport.Session, msg inbound.Message) Result {
	var res Result
	if e == nil || !Applies(msg, sess.Self()) {
		return res
	}
	res.Matched = e.matcher.Match(msg.Text)
	if len(res.Matched) == 0 {
		return res
	}

	for _, word := range res.Matched {
		if ctx.Err() != nil {
			return res
		}
		if e.remove(ctx, sess, msg, word) {
			res.Removed++
		}
		if e.warn(ctx, sess, msg, word) {
			res.Warned++
		}
	}
	return res
}

func (e *Engine) remove(ctx context.Context, sess transport.Session, msg inbound.Message, word string) bool {
	start := time.Now()
	actx, cancel := e.withTimeout(ctx)
	err := sess.RemoveParticipants(actx, msg.Chat, []transport.JID{msg.Sender})
	cancel()

	ok := err == nil
	if ok {
		e.log.Info("removed member for forbidden word",
			logx.String("group", msg.Chat.String()),
			logx.String("sender", msg.Sender.String()),
			logx.String("word", word),
		)
	} else {
		e.log.Warn("removal failed",
			logx.String("group", msg.Chat.String()),
			logx.String("sender", msg.Sender.String()),
			logx.String("word", word),
			logx.Err(err),
		)
	}

	storage.Audit(ctx, e.store, e.log, storage.AuditEntry{
		Actor:   "moderation",
		Chat:    msg.Chat.String(),
		Action:  storage.ActionModerationRemove,
		Target:  msg.Sender.String(),
		OK:      ok,
		Error:   errString(err),
		TookMS:  time.Since(start).Milliseconds(),
		Details: "word=" + word,
	})
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TopicModeration, Data: Action{
			Group:  msg.Chat.String(),
			Sender: msg.Sender.String(),
			Word:   word,
			OK:     ok,
		}})
	}
	return ok
}

func (e *Engine) warn(ctx context.Context, sess transport.Session, msg inbound.Message, word string) bool {
	actx, cancel := e.withTimeout(ctx)
	defer cancel()
	if err := sess.SendMessage(actx, msg.Chat, Warning(msg.Sender)); err != nil {
		e.log.Warn("warning send failed",
			logx.String("group", msg.Chat.String()),
			logx.String("sender", msg.Sender.String()),
			logx.Err(err),
		)
		storage.Audit(ctx, e.store, e.log, storage.AuditEntry{
			Actor:   "moderation",
			Chat:    msg.Chat.String(),
			Action:  storage.ActionModerationWarn,
			Target:  msg.Sender.String(),
			Error:   err.Error(),
			Details: "word=" + word,
		})
		return false
	}
	return true
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.actionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.actionTimeout)
}

// Warning is the group notice sent after a removal attempt.
func Warning(sender transport.JID) transport.OutgoingMessage {
	return transport.OutgoingMessage{
		Text:     fmt.Sprintf("⚠️ %s removed for forbidden word", sender.Mention()),
		Mentions: []transport.JID{sender},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
