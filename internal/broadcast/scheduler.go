// Package broadcast owns the scheduled tag-all tasks and fires them when the
// wall clock reaches their time of day.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupbot/internal/eventbus"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

// DedupWindow is how long a fired (task, date, clock) key suppresses refiring.
const DedupWindow = 2 * time.Minute

const header = "💠 Scheduled Tagall:"

// Task is a daily broadcast. Tasks live for the process lifetime.
type Task struct {
	ID        string        `json:"id"`
	Group     transport.JID `json:"group"`
	Time      string        `json:"time"`
	Message   string        `json:"message,omitempty"`
	Sender    transport.JID `json:"sender"`
	CreatedAt time.Time     `json:"created_at"`
}

// Fired is the payload of eventbus.TopicTaskFired events.
type Fired struct {
	Task    Task   `json:"task"`
	Members int    `json:"members"`
	Error   string `json:"error,omitempty"`
}

type Scheduler struct {
	mu    sync.Mutex
	tasks []Task
	fired map[string]time.Time // dedup fallback when no store is configured

	log           logx.Logger
	store         storage.Store
	bus           eventbus.Bus
	actionTimeout time.Duration
	now           func() time.Time
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }
func WithStore(st storage.Store) Option { return func(s *Scheduler) { s.store = st } }
func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }
func WithActionTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.actionTimeout = d }
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{fired: map[string]time.Time{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "broadcast"))
	return s
}

// Register normalizes t.Time and appends the task.
func (s *Scheduler) Register(t Task) (Task, error) {
	norm, err := NormalizeTime(t.Time)
	if err != nil {
		return Task{}, err
	}
	if t.Group.IsEmpty() {
		return Task{}, fmt.Errorf("broadcast: task without group")
	}
	t.Time = norm
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	n := len(s.tasks)
	s.mu.Unlock()

	s.log.Info("task scheduled",
		logx.String("task", t.ID),
		logx.String("group", t.Group.String()),
		logx.String("at", t.Time),
		logx.Int("total", n),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskScheduled, Data: t})
	}
	return t, nil
}

// Tasks returns a snapshot in registration order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

// Due returns the tasks whose time equals clock.
func (s *Scheduler) Due(clock string) []Task {
	var out []Task
	for _, t := range s.Tasks() {
		if t.Time == clock {
			out = append(out, t)
		}
	}
	return out
}

// Fire sends every task due at now. It returns the number of broadcasts sent.
// Per-task failures are logged and do not stop the remaining tasks.
func (s *Scheduler) Fire(ctx context.Context, sess transport.Session, now time.Time) int {
	clock := Clock(now)
	due := s.Due(clock)
	if len(due) == 0 {
		return 0
	}

	sent := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		key := dedupKey(t, now, clock)
		seen, err := s.seen(ctx, key, now)
		if err != nil {
			s.log.Warn("dedup lookup failed", logx.String("task", t.ID), logx.Err(err))
		}
		if seen {
			s.log.Debug("task already fired in this window", logx.String("task", t.ID), logx.String("at", clock))
			continue
		}
		s.mark(ctx, key, now)

		if s.fireOne(ctx, sess, t) {
			sent++
		}
	}
	return sent
}

func (s *Scheduler) fireOne(ctx context.Context, sess transport.Session, t Task) bool {
	start := time.Now()
	members, err := s.send(ctx, sess, t)

	ev := Fired{Task: t, Members: members}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("scheduled broadcast failed",
			logx.String("task", t.ID),
			logx.String("group", t.Group.String()),
			logx.Err(err),
		)
	} else {
		s.log.Info("scheduled broadcast sent",
			logx.String("task", t.ID),
			logx.String("group", t.Group.String()),
			logx.Int("members", members),
		)
	}

	storage.Audit(ctx, s.store, s.log, storage.AuditEntry{
		Actor:   "scheduler",
		Chat:    t.Group.String(),
		Action:  storage.ActionBroadcastFired,
		Target:  t.ID,
		OK:      err == nil,
		Error:   ev.Error,
		TookMS:  time.Since(start).Milliseconds(),
		Details: fmt.Sprintf("at=%s members=%d", t.Time, members),
	})
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicTaskFired, Data: ev})
	}
	return err == nil
}

func (s *Scheduler) send(ctx context.Context, sess transport.Session, t Task) (int, error) {
	actx, cancel := s.withTimeout(ctx)
	g, err := sess.GroupMetadata(actx, t.Group)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("group metadata: %w", err)
	}

	ids := transport.ParticipantJIDs(g.Participants)
	msg := transport.MentionList(header, ids)
	if t.Message != "" {
		msg.Text = t.Message
	}

	actx, cancel = s.withTimeout(ctx)
	defer cancel()
	if err := sess.SendMessage(actx, t.Group, msg); err != nil {
		return len(ids), fmt.Errorf("send: %w", err)
	}
	return len(ids), nil
}

func (s *Scheduler) seen(ctx context.Context, key string, now time.Time) (bool, error) {
	if s.store != nil {
		return storage.Seen(ctx, s.store, key, now)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, until := range s.fired {
		if !until.After(now) {
			delete(s.fired, k)
		}
	}
	_, ok := s.fired[key]
	return ok, nil
}

func (s *Scheduler) mark(ctx context.Context, key string, now time.Time) {
	until := now.Add(DedupWindow)
	if s.store != nil {
		if err := s.store.PutDedup(ctx, key, until); err != nil {
			s.log.Warn("dedup write failed", logx.String("key", key), logx.Err(err))
		}
		return
	}
	s.mu.Lock()
	s.fired[key] = until
	s.mu.Unlock()
}

func (s *Scheduler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.actionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.actionTimeout)
}

func dedupKey(t Task, now time.Time, clock string) string {
	return "broadcast:" + t.ID + ":" + now.Format("2006-01-02") + ":" + clock
}
