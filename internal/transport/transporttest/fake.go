// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"groupbot/internal/transport"
)

type Sent struct {
	To  transport.JID
	Msg transport.OutgoingMessage
}

type Removal struct {
	Group   transport.JID
	Members []transport.JID
}

// Session records outbound actions and lets tests inject events.
type Session struct {
	self   transport.JID
	events chan transport.Event
	done   chan struct{}

	closeOnce  sync.Once
	eventsOnce sync.Once

	mu        sync.Mutex
	groups    map[transport.JID]transport.GroupContext
	sent      []Sent
	removed   []Removal
	metaCalls int

	SendErr   error
	RemoveErr error
	MetaErr   error
}

var _ transport.Session = (*Session)(nil)

func NewSession(self transport.JID) *Session {
	return &Session{
		self:   self,
		events: make(chan transport.Event, 16),
		done:   make(chan struct{}),
		groups: map[transport.JID]transport.GroupContext{},
	}
}

func (s *Session) SetGroup(g transport.GroupContext) {
	s.mu.Lock()
	s.groups[g.ID] = g
	s.mu.Unlock()
}

// Emit delivers ev unless the session was closed.
func (s *Session) Emit(ev transport.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Open emits a ConnOpen update.
func (s *Session) Open() {
	s.Emit(transport.Event{Kind: transport.EventConnection, Connection: &transport.ConnectionUpdate{State: transport.ConnOpen}})
}

// Drop emits a close update with reason and closes the event stream.
func (s *Session) Drop(reason error) {
	s.Emit(transport.Event{Kind: transport.EventConnection, Connection: &transport.ConnectionUpdate{State: transport.ConnClose, Reason: reason}})
	s.eventsOnce.Do(func() { close(s.events) })
}

// Closed is closed once Close has been called.
func (s *Session) Closed() <-chan struct{} { return s.done }

func (s *Session) Events() <-chan transport.Event { return s.events }

func (s *Session) SendMessage(ctx context.Context, to transport.JID, msg transport.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return fmt.Errorf("%w: %w", transport.ErrActionFailed, s.SendErr)
	}
	msg.Mentions = append([]transport.JID(nil), msg.Mentions...)
	s.sent = append(s.sent, Sent{To: to, Msg: msg})
	return nil
}

func (s *Session) RemoveParticipants(ctx context.Context, group transport.JID, members []transport.JID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RemoveErr != nil {
		return fmt.Errorf("%w: %w", transport.ErrActionFailed, s.RemoveErr)
	}
	s.removed = append(s.removed, Removal{Group: group, Members: append([]transport.JID(nil), members...)})
	return nil
}

func (s *Session) GroupMetadata(ctx context.Context, group transport.JID) (transport.GroupContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaCalls++
	if s.MetaErr != nil {
		return transport.GroupContext{}, s.MetaErr
	}
	g, ok := s.groups[group]
	if !ok {
		return transport.GroupContext{}, fmt.Errorf("group %s not found", group)
	}
	g.Participants = append([]transport.Participant(nil), g.Participants...)
	return g, nil
}

func (s *Session) Self() transport.JID { return s.self }

func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Session) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Session) Removed() []Removal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Removal(nil), s.removed...)
}

func (s *Session) MetadataCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaCalls
}

// Client hands out queued sessions (or errors) in order.
// Connect blocks until something is queued or ctx is done.
type Client struct {
	mu      sync.Mutex
	queue   []dial
	wake    chan struct{}
	creds   [][]byte
	Dialed  chan *Session
	dialled int
}

type dial struct {
	sess *Session
	err  error
}

var _ transport.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{wake: make(chan struct{}, 1), Dialed: make(chan *Session, 16)}
}

func (c *Client) Push(s *Session) { c.enqueue(dial{sess: s}) }

func (c *Client) PushErr(err error) { c.enqueue(dial{err: err}) }

func (c *Client) enqueue(d dial) {
	c.mu.Lock()
	c.queue = append(c.queue, d)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) Connect(ctx context.Context, creds []byte) (transport.Session, error) {
	c.mu.Lock()
	c.creds = append(c.creds, append([]byte(nil), creds...))
	c.dialled++
	c.mu.Unlock()
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			d := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			if d.err != nil {
				return nil, d.err
			}
			select {
			case c.Dialed <- d.sess:
			default:
			}
			return d.sess, nil
		}
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.wake:
		}
	}
}

// Creds returns the credential blobs passed to each Connect call.
func (c *Client) Creds() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.creds...)
}

func (c *Client) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialled
}
