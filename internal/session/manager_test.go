package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"groupbot/internal/eventbus"
	"groupbot/internal/transport"
	"groupbot/internal/transport/transporttest"
)

const self = transport.JID("1000@c.us")

type harness struct {
	t      *testing.T
	client *transporttest.Client
	creds  *CredentialStore
	mgr    *Manager
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, h Handler, opts ...Option) *harness {
	t.Helper()
	creds, err := OpenCredentialStore(t.TempDir())
	if err != nil {
		t.Fatalf("creds: %v", err)
	}
	client := transporttest.NewClient()
	mgr := New(Config{BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}, client, creds, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, h) }()

	hs := &harness{t: t, client: client, creds: creds, mgr: mgr, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("Run did not return after cancel")
		}
	})
	return hs
}

func (h *harness) dial() *transporttest.Session {
	h.t.Helper()
	s := transporttest.NewSession(self)
	h.client.Push(s)
	select {
	case got := <-h.client.Dialed:
		return got
	case <-time.After(2 * time.Second):
		h.t.Fatalf("session was not dialed")
		return nil
	}
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	waitFor(h.t, func() bool { return h.mgr.State() == want }, "state "+want.String())
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRecoverableCloseReconnects(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	states, unsub := bus.Subscribe(32, eventbus.TopicSessionState)
	defer unsub()

	h := newHarness(t, nil, WithBus(bus))
	s1 := h.dial()
	s1.Open()
	h.waitState(Connected)

	s1.Drop(errors.New("stream errored"))
	s2 := h.dial()
	select {
	case <-s1.Closed():
	case <-time.After(time.Second):
		t.Fatalf("dropped session was not closed")
	}
	s2.Open()
	h.waitState(Connected)

	if got := h.client.Dials(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}

	waitFor(t, func() bool { return len(states) == 4 }, "four state events")
	var seen []string
	for len(states) > 0 {
		ev := <-states
		seen = append(seen, ev.Data.(StateChange).To.String())
	}
	if got := strings.Join(seen, ","); got != "connecting,connected,connecting,connected" {
		t.Fatalf("state events = %s", got)
	}
}

func TestLogoutIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	s1 := h.dial()
	s1.Open()
	h.waitState(Connected)

	// A second session is available, but must never be dialed.
	h.client.Push(transporttest.NewSession(self))
	s1.Drop(fmt.Errorf("401: %w", transport.ErrLoggedOut))

	select {
	case err := <-h.done:
		h.done <- err // let cleanup observe the exit
		if !errors.Is(err, transport.ErrLoggedOut) {
			t.Fatalf("Run returned %v, want ErrLoggedOut", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after logout")
	}
	if h.mgr.State() != LoggedOut {
		t.Fatalf("state = %s", h.mgr.State())
	}
	if got := h.client.Dials(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestConnectErrorsRetryUnlessLoggedOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.client.PushErr(errors.New("dial tcp: refused"))
	s := h.dial()
	s.Open()
	h.waitState(Connected)

	s.Drop(nil)
	h.client.PushErr(transport.ErrLoggedOut)
	select {
	case err := <-h.done:
		h.done <- err
		if !errors.Is(err, transport.ErrLoggedOut) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on logged-out connect error")
	}
}

func TestMissingCredentialsStopWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.client.PushErr(fmt.Errorf("%w: %w", transport.ErrLoggedOut, transport.ErrNoCredentials))
	select {
	case err := <-h.done:
		h.done <- err
		if !errors.Is(err, transport.ErrLoggedOut) || !errors.Is(err, transport.ErrNoCredentials) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop without credentials")
	}
	if got := h.client.Dials(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestCredentialRotationPersistsBeforeAck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	if err := h.creds.Seed([]byte("seed")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s1 := h.dial()
	s1.Open()
	h.waitState(Connected)

	acked := make(chan []byte, 1)
	s1.Emit(transport.Event{Kind: transport.EventCredentials, Credentials: &transport.CredentialsRotated{
		Blob: []byte("rotated"),
		Ack: func(err error) {
			if err != nil {
				t.Errorf("ack error: %v", err)
			}
			b, _ := h.creds.Load()
			acked <- b
		},
	}})
	select {
	case b := <-acked:
		if string(b) != "rotated" {
			t.Fatalf("credentials at ack time = %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("rotation was not acknowledged")
	}

	s1.Drop(transport.ErrConnectionClosed)
	h.dial()
	creds := h.client.Creds()
	if len(creds) < 2 || string(creds[1]) != "rotated" {
		t.Fatalf("reconnect used %q", creds)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, sess transport.Session, b transport.MessageBatch) {
		if calls.Add(1) == 1 {
			panic("handler bug")
		}
	})
	h := newHarness(t, handler)
	s := h.dial()
	s.Open()
	h.waitState(Connected)

	batch := &transport.MessageBatch{Class: transport.ClassNotify}
	s.Emit(transport.Event{Kind: transport.EventMessages, Batch: batch})
	s.Emit(transport.Event{Kind: transport.EventMessages, Batch: batch})
	waitFor(t, func() bool { return calls.Load() == 2 }, "second batch")
	if h.mgr.State() != Connected {
		t.Fatalf("panic disturbed the session: %s", h.mgr.State())
	}
}

func TestPostedJobsRunOnLiveSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	s := h.dial()
	s.Open()
	h.waitState(Connected)

	ran := make(chan transport.Session, 1)
	if !h.mgr.Post(func(ctx context.Context, sess transport.Session) { ran <- sess }) {
		t.Fatalf("post rejected")
	}
	select {
	case got := <-ran:
		if got != transport.Session(s) {
			t.Fatalf("job got a different session")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not run")
	}

	cur, ok := h.mgr.Current()
	if !ok || cur != transport.Session(s) {
		t.Fatalf("Current() = %v, %v", cur, ok)
	}
}

func TestJobsDoNotOutliveTheirConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	s1 := h.dial()
	s1.Open()
	h.waitState(Connected)

	// Nothing is queued on the client, so the reconnect blocks in Connect.
	s1.Drop(errors.New("stream errored"))
	h.waitState(Connecting)

	var ran atomic.Int32
	job := func(ctx context.Context, sess transport.Session) { ran.Add(1) }
	for i := 0; i < 10; i++ {
		if h.mgr.Post(job) {
			t.Fatalf("post accepted while %s", h.mgr.State())
		}
	}
	// A job accepted on the first connection that never got to run.
	h.mgr.jobs <- queuedJob{job: job, epoch: 1}

	s2 := transporttest.NewSession(self)
	s2.Open()
	h.client.Push(s2)
	h.waitState(Connected)

	done := make(chan struct{})
	if !h.mgr.Post(func(context.Context, transport.Session) { close(done) }) {
		t.Fatalf("post rejected after reconnect")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fresh job did not run")
	}
	if got := ran.Load(); got != 0 {
		t.Fatalf("%d stale jobs ran on the new connection", got)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	ready    int
	statuses []string
}

func (n *recordingNotifier) Ready() {
	n.mu.Lock()
	n.ready++
	n.mu.Unlock()
}

func (n *recordingNotifier) Status(s string) {
	n.mu.Lock()
	n.statuses = append(n.statuses, s)
	n.mu.Unlock()
}

type recordingPairing struct {
	mu    sync.Mutex
	codes []string
}

func (p *recordingPairing) Show(code string) error {
	p.mu.Lock()
	p.codes = append(p.codes, code)
	p.mu.Unlock()
	return nil
}

func TestPairingAndReadiness(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	p := &recordingPairing{}
	h := newHarness(t, nil, WithNotifier(n), WithPairing(p))
	s := h.dial()
	s.Emit(transport.Event{Kind: transport.EventConnection, Connection: &transport.ConnectionUpdate{
		State: transport.ConnConnecting, PairingCode: "ABC-123",
	}})
	s.Open()
	h.waitState(Connected)

	p.mu.Lock()
	codes := append([]string(nil), p.codes...)
	p.mu.Unlock()
	if len(codes) != 1 || codes[0] != "ABC-123" {
		t.Fatalf("pairing codes = %v", codes)
	}
	waitFor(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.ready == 1
	}, "ready notification")
}
