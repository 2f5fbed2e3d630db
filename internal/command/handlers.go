package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"groupbot/internal/broadcast"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
)

const DirectReply = "📩 Auto-reply: I'm currently in a group. Admins only can send commands."

var menuLines = []string{
	"📜 *BOT MENU* 📜",
	"1️⃣ !rules - Show group rules",
	"2️⃣ !info - Show group info",
	"3️⃣ !tagall - Tag all members",
	"4️⃣ !tagadmins - Tag all admins",
	"5️⃣ !kick @tag - Kick member",
	"6️⃣ DM reply - Auto reply in DM",
	"7️⃣ !tagall by HH:MM - Schedule tagall",
}

var rulesLines = []string{
	"📌 Always respect all members",
	"📌 No spam",
	"📌 Follow admins instructions",
	"📌 Failure to attend clan training = immediate removal",
	"⚠️ Violators will be removed",
}

var (
	MenuText  = strings.Join(menuLines, "\n")
	RulesText = strings.Join(rulesLines, "\n")
)

var errNoGroup = errors.New("command: group context missing")

func reply(ctx context.Context, req *Request, msg transport.OutgoingMessage) error {
	return req.Session.SendMessage(ctx, req.Msg.Chat, msg)
}

func group(req *Request) (transport.GroupContext, error) {
	if req.Msg.Group == nil {
		return transport.GroupContext{}, errNoGroup
	}
	return *req.Msg.Group, nil
}

func memberIDs(ps []transport.Participant) []transport.JID {
	return lo.Map(ps, func(p transport.Participant, _ int) transport.JID { return p.JID })
}

func adminIDs(ps []transport.Participant) []transport.JID {
	admins := lo.Filter(ps, func(p transport.Participant, _ int) bool { return p.IsAdmin })
	return memberIDs(admins)
}

func (r *Router) handleMenu(ctx context.Context, req *Request) error {
	return reply(ctx, req, transport.OutgoingMessage{Text: MenuText})
}

func (r *Router) handleRules(ctx context.Context, req *Request) error {
	return reply(ctx, req, transport.OutgoingMessage{Text: RulesText})
}

func (r *Router) handleInfo(ctx context.Context, req *Request) error {
	g, err := group(req)
	if err != nil {
		return err
	}
	admins := adminIDs(g.Participants)

	var b strings.Builder
	fmt.Fprintf(&b, "👥 Group: %s\n🆔 ID: %s\n👑 Admins:\n", g.Subject, g.ID)
	for _, a := range admins {
		fmt.Fprintf(&b, "- %s\n", a.Mention())
	}
	return reply(ctx, req, transport.OutgoingMessage{Text: b.String(), Mentions: admins})
}

func (r *Router) handleTagAll(ctx context.Context, req *Request) error {
	g, err := group(req)
	if err != nil {
		return err
	}
	return reply(ctx, req, transport.MentionList("💠 Tagging all members:", memberIDs(g.Participants)))
}

func (r *Router) handleTagAdmins(ctx context.Context, req *Request) error {
	g, err := group(req)
	if err != nil {
		return err
	}
	return reply(ctx, req, transport.MentionList("💠 Tagging all admins:", adminIDs(g.Participants)))
}

func (r *Router) handleSchedule(ctx context.Context, req *Request) error {
	if r.sched == nil {
		return errors.New("command: scheduler not configured")
	}
	task, err := r.sched.Register(broadcast.Task{
		Group:  req.Msg.Chat,
		Time:   req.Cmd.Time,
		Sender: req.Msg.Sender,
	})
	storage.Audit(ctx, r.store, req.Logger, storage.AuditEntry{
		Actor:   req.Msg.Sender.String(),
		Chat:    req.Msg.Chat.String(),
		Action:  storage.ActionCommandSchedule,
		Target:  task.ID,
		OK:      err == nil,
		Error:   errString(err),
		Details: "at=" + req.Cmd.Time,
	})
	if err != nil {
		return err
	}
	return reply(ctx, req, transport.OutgoingMessage{Text: "⏰ Scheduled tagall at " + task.Time})
}

// handleKick removes every mentioned member; the confirmation names only the
// first one but mentions all of them.
func (r *Router) handleKick(ctx context.Context, req *Request) error {
	targets := lo.Uniq(lo.Filter(req.Msg.Mentions, func(j transport.JID, _ int) bool { return !j.IsEmpty() }))
	if len(targets) == 0 {
		return nil
	}

	start := time.Now()
	err := req.Session.RemoveParticipants(ctx, req.Msg.Chat, targets)
	storage.Audit(ctx, r.store, req.Logger, storage.AuditEntry{
		Actor:  req.Msg.Sender.String(),
		Chat:   req.Msg.Chat.String(),
		Action: storage.ActionCommandKick,
		Target: strings.Join(lo.Map(targets, func(j transport.JID, _ int) string { return j.String() }), ","),
		OK:     err == nil,
		Error:  errString(err),
		TookMS: time.Since(start).Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	return reply(ctx, req, transport.OutgoingMessage{
		Text:     "❌ Removed " + targets[0].Mention(),
		Mentions: targets,
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
