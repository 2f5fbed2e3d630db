package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"groupbot/internal/eventbus"
	"groupbot/internal/runtime/supervisor"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

var ErrNotConnected = errors.New("session: not connected")

// Handler receives message batches on the session loop.
type Handler interface {
	HandleBatch(ctx context.Context, sess transport.Session, batch transport.MessageBatch)
}

type HandlerFunc func(ctx context.Context, sess transport.Session, batch transport.MessageBatch)

func (f HandlerFunc) HandleBatch(ctx context.Context, sess transport.Session, batch transport.MessageBatch) {
	f(ctx, sess, batch)
}

// Job runs on the session loop with the live session.
type Job func(ctx context.Context, sess transport.Session)

// Notifier receives lifecycle notifications (systemd in production).
type Notifier interface {
	Ready()
	Status(status string)
}

// PairingDisplay shows a pairing challenge to the operator.
type PairingDisplay interface {
	Show(code string) error
}

// StateChange is the eventbus payload for TopicSessionState.
type StateChange struct {
	From   State
	To     State
	Reason string
}

type Config struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
	// JobQueue is the capacity of the posted-job queue.
	JobQueue int
}

type Option func(*Manager)

func WithLogger(log logx.Logger) Option { return func(m *Manager) { m.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(m *Manager) { m.bus = bus } }

func WithNotifier(n Notifier) Option { return func(m *Manager) { m.notifier = n } }

func WithPairing(p PairingDisplay) Option { return func(m *Manager) { m.pairing = p } }

// Manager owns the connection state machine.
type Manager struct {
	cfg    Config
	client transport.Client
	creds  *CredentialStore

	log      logx.Logger
	bus      eventbus.Bus
	notifier Notifier
	pairing  PairingDisplay

	jobs chan queuedJob

	mu    sync.RWMutex
	state State
	sess  transport.Session
	// epoch counts Connected periods; a job only runs in the period it was posted in.
	epoch uint64
}

type queuedJob struct {
	job   Job
	epoch uint64
}

func New(cfg Config, client transport.Client, creds *CredentialStore, opts ...Option) *Manager {
	if cfg.JobQueue <= 0 {
		cfg.JobQueue = 64
	}
	m := &Manager{
		cfg:    cfg,
		client: client,
		creds:  creds,
		jobs:   make(chan queuedJob, cfg.JobQueue),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the live session while Connected.
func (m *Manager) Current() (transport.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Connected || m.sess == nil {
		return nil, false
	}
	return m.sess, true
}

// Post queues job for the session loop without blocking.
// It reports false when the session is not Connected or the queue is full.
// A queued job is dropped if the connection it was posted on closes first.
func (m *Manager) Post(job Job) bool {
	if job == nil {
		return false
	}
	m.mu.RLock()
	connected, epoch := m.state == Connected, m.epoch
	m.mu.RUnlock()
	if !connected {
		return false
	}
	select {
	case m.jobs <- queuedJob{job: job, epoch: epoch}:
		return true
	default:
		return false
	}
}

// Run drives connect, serve and backoff until ctx is done (returns nil) or the
// transport reports an authoritative logout (returns an error wrapping
// transport.ErrLoggedOut).
func (m *Manager) Run(ctx context.Context, h Handler) error {
	bo := supervisor.NewBackoff(m.cfg.BackoffMin, m.cfg.BackoffMax)

	var reason error
	_, act := m.apply(TriggerStart, nil)
	for act != ActionStop {
		if ctx.Err() != nil {
			m.reset()
			return nil
		}

		startedAt := time.Now()
		reason = m.connectAndServe(ctx, h)
		if ctx.Err() != nil {
			m.reset()
			return nil
		}

		trig := TriggerClose
		if errors.Is(reason, transport.ErrLoggedOut) {
			trig = TriggerLogout
		}
		_, act = m.apply(trig, reason)

		if act == ActionReconnect {
			bo.ResetIfStable(time.Now().Sub(startedAt))
			wait := bo.Next()
			m.log.Warn("connection closed; reconnecting", logx.Err(reason), logx.Duration("backoff", wait))
			if !supervisor.Sleep(ctx, wait) {
				m.reset()
				return nil
			}
		}
	}

	if reason == nil {
		reason = transport.ErrLoggedOut
	}
	if errors.Is(reason, transport.ErrNoCredentials) {
		m.log.Error("no credentials configured; set transport.token or GROUPBOT_SESSION",
			logx.String("auth_dir", m.creds.dir), logx.Err(reason))
	} else {
		m.log.Error("session logged out; delete the auth dir and pair again",
			logx.String("auth_dir", m.creds.dir), logx.Err(reason))
	}
	return fmt.Errorf("session: %w", reason)
}

func (m *Manager) connectAndServe(ctx context.Context, h Handler) error {
	blob, err := m.creds.Load()
	if err != nil {
		return err
	}
	sess, err := m.client.Connect(ctx, blob)
	if err != nil {
		return err
	}
	defer func() {
		m.mu.Lock()
		m.sess = nil
		m.mu.Unlock()
		if err := sess.Close(); err != nil {
			m.log.Debug("session close failed", logx.Err(err))
		}
	}()
	return m.serve(ctx, sess, h)
}

func (m *Manager) serve(ctx context.Context, sess transport.Session, h Handler) error {
	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return transport.ErrConnectionClosed
			}
			if closed, reason := m.onEvent(ctx, sess, ev, h); closed {
				return reason
			}

		case q := <-m.jobs:
			m.mu.RLock()
			live := m.state == Connected && m.epoch == q.epoch
			state := m.state
			m.mu.RUnlock()
			if !live {
				m.log.Debug("stale job dropped", logx.String("state", state.String()))
				continue
			}
			m.contain("job", func() { q.job(ctx, sess) })
		}
	}
}

// onEvent handles one transport event. It reports true and the reason on close.
func (m *Manager) onEvent(ctx context.Context, sess transport.Session, ev transport.Event, h Handler) (bool, error) {
	switch ev.Kind {
	case transport.EventCredentials:
		if ev.Credentials == nil {
			return false, nil
		}
		err := m.creds.Save(ev.Credentials.Blob)
		if err != nil {
			m.log.Error("credentials persist failed", logx.Err(err))
		} else {
			m.log.Debug("credentials persisted", logx.Int("bytes", len(ev.Credentials.Blob)))
		}
		if ev.Credentials.Ack != nil {
			ev.Credentials.Ack(err)
		}

	case transport.EventConnection:
		cu := ev.Connection
		if cu == nil {
			return false, nil
		}
		if cu.PairingCode != "" && m.pairing != nil {
			if err := m.pairing.Show(cu.PairingCode); err != nil {
				m.log.Warn("pairing display failed", logx.Err(err))
			}
			m.publish(eventbus.TopicPairing, cu.PairingCode)
		}
		switch cu.State {
		case transport.ConnOpen:
			m.mu.Lock()
			m.sess = sess
			m.mu.Unlock()
			prev := m.State()
			if to, _ := m.apply(TriggerOpen, nil); to == Connected && prev != Connected {
				m.log.Info("connected", logx.String("self", sess.Self().String()))
				if m.notifier != nil {
					m.notifier.Ready()
				}
			}
		case transport.ConnClose:
			reason := cu.Reason
			if reason == nil {
				reason = transport.ErrConnectionClosed
			}
			return true, reason
		}

	case transport.EventMessages:
		if ev.Batch == nil || h == nil {
			return false, nil
		}
		batch := *ev.Batch
		m.contain("batch", func() { h.HandleBatch(ctx, sess, batch) })
	}
	return false, nil
}

func (m *Manager) contain(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session handler panicked", logx.String("what", what), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

func (m *Manager) apply(t Trigger, reason error) (State, Action) {
	m.mu.Lock()
	from := m.state
	to, act := Transition(from, t)
	m.state = to
	if to == Connected && from != Connected {
		m.epoch++
	}
	m.mu.Unlock()

	if from != to {
		m.onStateChange(from, to, reason)
	}
	return to, act
}

// reset marks the session Disconnected after shutdown.
func (m *Manager) reset() {
	m.mu.Lock()
	from := m.state
	if from != LoggedOut {
		m.state = Disconnected
	}
	m.mu.Unlock()
	if from != LoggedOut && from != Disconnected {
		m.onStateChange(from, Disconnected, context.Canceled)
	}
}

func (m *Manager) onStateChange(from, to State, reason error) {
	sc := StateChange{From: from, To: to}
	if reason != nil {
		sc.Reason = reason.Error()
	}
	m.log.Debug("session state", logx.String("from", from.String()), logx.String("to", to.String()), logx.Err(reason))
	m.publish(eventbus.TopicSessionState, sc)
	if m.notifier != nil {
		m.notifier.Status("session " + to.String())
	}
}

func (m *Manager) publish(topic string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: topic, Time: time.Now(), Data: data})
}
