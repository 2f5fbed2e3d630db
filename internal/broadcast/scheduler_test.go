package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"groupbot/internal/eventbus"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	"groupbot/internal/transport/transporttest"
	logx "groupbot/pkg/logx"
)

const group transport.JID = "-100@g.us"

func at(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 10, 0, time.UTC)
}

func newSession() *transporttest.Session {
	sess := transporttest.NewSession("1@c.us")
	sess.SetGroup(transport.GroupContext{
		ID:      group,
		Subject: "clan",
		Participants: []transport.Participant{
			{JID: "7@c.us", IsAdmin: true},
			{JID: "8@c.us"},
		},
	})
	return sess
}

func TestRegisterNormalizes(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TopicTaskScheduled)
	defer unsub()

	s := NewScheduler(WithBus(bus))
	task, err := s.Register(Task{Group: group, Time: "09:30", Sender: "7@c.us"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if task.Time != "9:30" || task.ID == "" || task.CreatedAt.IsZero() {
		t.Fatalf("task = %+v", task)
	}
	if got := s.Tasks(); len(got) != 1 || got[0].ID != task.ID {
		t.Fatalf("tasks = %+v", got)
	}
	select {
	case ev := <-events:
		if ev.Data.(Task).ID != task.ID {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no scheduled event")
	}

	if _, err := s.Register(Task{Group: group, Time: "25:00"}); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("bad time: err = %v", err)
	}
	if _, err := s.Register(Task{Time: "9:00"}); err == nil {
		t.Fatalf("missing group accepted")
	}
	if n := len(s.Tasks()); n != 1 {
		t.Fatalf("rejected tasks were stored: %d", n)
	}
}

func TestFireSendsFreshRoster(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	if _, err := s.Register(Task{Group: group, Time: "9:30"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sess := newSession()

	if n := s.Fire(context.Background(), sess, at(9, 29)); n != 0 {
		t.Fatalf("fired early: %d", n)
	}
	if n := s.Fire(context.Background(), sess, at(9, 30)); n != 1 {
		t.Fatalf("fired = %d, want 1", n)
	}
	sent := sess.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d", len(sent))
	}
	if sent[0].To != group || sent[0].Msg.Text != "💠 Scheduled Tagall:\n@7\n@8" {
		t.Fatalf("message = %+v", sent[0])
	}
	if len(sent[0].Msg.Mentions) != 2 {
		t.Fatalf("mentions = %v", sent[0].Msg.Mentions)
	}

	// Roster changes are picked up on the next day's fire.
	sess.SetGroup(transport.GroupContext{ID: group, Participants: []transport.Participant{{JID: "9@c.us"}}})
	if n := s.Fire(context.Background(), sess, at(9, 30).AddDate(0, 0, 1)); n != 1 {
		t.Fatalf("next day fired = %d", n)
	}
	if got := sess.Sent()[1].Msg.Text; got != "💠 Scheduled Tagall:\n@9" {
		t.Fatalf("next day text = %q", got)
	}
	if len(s.Tasks()) != 1 {
		t.Fatalf("fired task was removed")
	}
}

func TestFireSameMinuteOnce(t *testing.T) {
	t.Parallel()

	s := NewScheduler()
	if _, err := s.Register(Task{Group: group, Time: "9:30"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sess := newSession()
	s.Fire(context.Background(), sess, at(9, 30))
	s.Fire(context.Background(), sess, at(9, 30).Add(20*time.Second))
	if n := len(sess.Sent()); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
}

func TestFireDedupWithStore(t *testing.T) {
	t.Parallel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	s := NewScheduler(WithStore(st))
	if _, err := s.Register(Task{Group: group, Time: "9:30"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sess := newSession()
	s.Fire(context.Background(), sess, at(9, 30))
	s.Fire(context.Background(), sess, at(9, 30).Add(30*time.Second))
	if n := len(sess.Sent()); n != 1 {
		t.Fatalf("sent = %d, want 1", n)
	}
}

func TestFireOverrideAndFailures(t *testing.T) {
	t.Parallel()

	other := transport.JID("-200@g.us")
	s := NewScheduler(WithActionTimeout(time.Second))
	if _, err := s.Register(Task{Group: other, Time: "6:00"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.Register(Task{Group: group, Time: "06:00", Message: "wake up"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sess := newSession()

	// The first task's group is unknown to the session; the second still fires.
	if n := s.Fire(context.Background(), sess, at(6, 0)); n != 1 {
		t.Fatalf("fired = %d, want 1", n)
	}
	sent := sess.Sent()
	if len(sent) != 1 || sent[0].Msg.Text != "wake up" || len(sent[0].Msg.Mentions) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
}

func TestTicker(t *testing.T) {
	t.Parallel()

	if _, err := NewTicker("every minute", time.UTC, func(time.Time) {}, logx.Nop()); err == nil || !strings.Contains(err.Error(), "tick spec") {
		t.Fatalf("bad spec: err = %v", err)
	}

	ticks := make(chan time.Time, 4)
	tk, err := NewTicker("@every 1s", time.UTC, func(now time.Time) {
		select {
		case ticks <- now:
		default:
		}
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewTicker: %v", err)
	}
	tk.Start()
	defer tk.Stop(context.Background())

	select {
	case now := <-ticks:
		if now.Location() != time.UTC {
			t.Fatalf("tick location = %v", now.Location())
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no tick")
	}
}
