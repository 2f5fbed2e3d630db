package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"groupbot/internal/session"
	"groupbot/internal/transport"
	"groupbot/internal/transport/telegram"
	"groupbot/internal/transport/transporttest"
)

const (
	self   = transport.JID("1000@c.us")
	group  = transport.JID("-100@g.us")
	admin  = transport.JID("7@c.us")
	member = transport.JID("8@c.us")
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "transport": {"token": "123:abc", "action_timeout": "2s"},
  "session": {"auth_dir": %q, "backoff_min": "5ms", "backoff_max": "10ms"},
  "moderation": {"forbidden_words": ["badword1"]},
  "logging": {"level": "error"}
}`, filepath.Join(dir, "auth"))
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

type harness struct {
	t      *testing.T
	agent  *Agent
	client *transporttest.Client
	sess   *transporttest.Session
}

func startAgent(t *testing.T) *harness {
	t.Helper()
	client := transporttest.NewClient()
	agent, err := NewAgent(writeConfig(t, t.TempDir()), WithClient(client), WithPairingOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := agent.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = agent.Stop(stopCtx, StopSignal)
		cancel()
	})

	sess := transporttest.NewSession(self)
	sess.SetGroup(transport.GroupContext{
		ID:      group,
		Subject: "Team",
		Participants: []transport.Participant{
			{JID: admin, IsAdmin: true},
			{JID: member},
		},
	})
	client.Push(sess)
	select {
	case <-client.Dialed:
	case <-time.After(2 * time.Second):
		t.Fatalf("session was not dialed")
	}
	sess.Open()
	h := &harness{t: t, agent: agent, client: client, sess: sess}
	waitFor(t, func() bool { return agent.Session().State() == session.Connected }, "connected")
	return h
}

func (h *harness) say(from transport.JID, chat transport.JID, text string) {
	m := transport.Message{ID: "m-" + text, Chat: chat, Payload: &transport.Payload{Conversation: text}}
	if chat.IsGroup() {
		m.Participant = from
	}
	h.sess.Emit(transport.Event{Kind: transport.EventMessages, Batch: &transport.MessageBatch{
		Class:    transport.ClassNotify,
		Messages: []transport.Message{m},
	}})
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func sentTexts(s *transporttest.Session) []string {
	var out []string
	for _, m := range s.Sent() {
		out = append(out, m.Msg.Text)
	}
	return out
}

func TestAgentSeedsCredentialsFromToken(t *testing.T) {
	t.Parallel()

	h := startAgent(t)
	creds := h.client.Creds()
	if len(creds) == 0 {
		t.Fatalf("no connect recorded")
	}
	tok, err := telegram.DecodeCredentials(creds[0])
	if err != nil || tok != "123:abc" {
		t.Fatalf("credentials = %q, %v", tok, err)
	}
}

func TestAgentModeratesAndRoutesCommands(t *testing.T) {
	t.Parallel()

	h := startAgent(t)

	h.say(member, group, "this has BADWORD1 inside")
	waitFor(t, func() bool { return len(h.sess.Removed()) == 1 && len(h.sess.Sent()) == 1 }, "removal and warning")
	if got := h.sess.Removed()[0]; got.Group != group || len(got.Members) != 1 || got.Members[0] != member {
		t.Fatalf("removal = %+v", got)
	}
	if got := h.sess.Sent()[0].Msg.Text; !strings.Contains(got, "@8") {
		t.Fatalf("warning = %q", got)
	}

	// Admins are exempt from moderation and may run commands.
	h.say(admin, group, "!tagall")
	waitFor(t, func() bool { return len(h.sess.Sent()) == 2 }, "tagall reply")
	if got := h.sess.Sent()[1].Msg.Text; got != "💠 Tagging all members:\n@7\n@8" {
		t.Fatalf("tagall = %q", got)
	}
	if len(h.sess.Removed()) != 1 {
		t.Fatalf("admin message triggered moderation")
	}

	// Non-admin commands get no reply.
	h.say(member, group, "!tagall")
	h.say(member, "8@c.us", "hello")
	waitFor(t, func() bool { return len(h.sess.Sent()) == 3 }, "direct reply")
	if got := h.sess.Sent()[2].To; got != "8@c.us" {
		t.Fatalf("direct reply sent to %s", got)
	}
}

func TestAgentScheduledBroadcastFiresOnTick(t *testing.T) {
	t.Parallel()

	h := startAgent(t)

	h.say(admin, group, "!tagall by 09:30")
	waitFor(t, func() bool { return len(h.agent.Scheduler().Tasks()) == 1 }, "task registered")
	waitFor(t, func() bool { return len(h.sess.Sent()) == 1 }, "schedule confirmation")
	if got := h.sess.Sent()[0].Msg.Text; got != "⏰ Scheduled tagall at 9:30" {
		t.Fatalf("confirmation = %q", got)
	}

	// A tick outside the task's minute posts nothing.
	h.agent.onTick(time.Date(2026, 1, 2, 9, 29, 0, 0, time.Local))
	at := time.Date(2026, 1, 2, 9, 30, 0, 0, time.Local)
	h.agent.onTick(at)
	h.agent.onTick(at.Add(20 * time.Second))
	waitFor(t, func() bool { return len(h.sess.Sent()) >= 2 }, "broadcast")
	time.Sleep(50 * time.Millisecond)

	texts := sentTexts(h.sess)
	if len(texts) != 2 {
		t.Fatalf("sent = %q, want confirmation plus one broadcast", texts)
	}
	if texts[1] != "💠 Scheduled Tagall:\n@7\n@8" {
		t.Fatalf("broadcast = %q", texts[1])
	}
}

func TestAgentSendLogNeedsLiveSession(t *testing.T) {
	t.Parallel()

	client := transporttest.NewClient()
	agent, err := NewAgent(writeConfig(t, t.TempDir()), WithClient(client), WithPairingOutput(io.Discard))
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	if err := agent.SendLog(context.Background(), "1@c.us", "hi"); !errors.Is(err, errNotConnected) {
		t.Fatalf("SendLog = %v, want errNotConnected", err)
	}
}

func TestAgentStopsOnLogout(t *testing.T) {
	t.Parallel()

	h := startAgent(t)
	h.sess.Drop(fmt.Errorf("revoked: %w", transport.ErrLoggedOut))
	select {
	case <-h.agent.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("agent did not stop after logout")
	}
	if !errors.Is(h.agent.Err(), transport.ErrLoggedOut) {
		t.Fatalf("Err = %v, want ErrLoggedOut", h.agent.Err())
	}
}
