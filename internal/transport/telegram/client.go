package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "groupbot/internal/runtime/supervisor"
	"groupbot/internal/transport"
	logx "groupbot/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultHeartbeat   = time.Minute
	stopGrace          = 2 * time.Second
	// Heartbeat failures in a row before the session is declared closed.
	maxHeartbeatFailures = 3
	// Updates older than session start minus this skew are backlog.
	backlogSkew = 5 * time.Second
)

type Config struct {
	// URL overrides the Bot API endpoint; empty uses the public API.
	URL            string
	PollTimeout    time.Duration
	SendRatePerSec float64
	// Heartbeat is the getMe check period.
	Heartbeat time.Duration
}

// Client connects Bot API sessions. The member roster and the send limiter
// outlive individual sessions.
type Client struct {
	cfg     Config
	log     logx.Logger
	roster  *roster
	limiter *rate.Limiter
}

var _ transport.Client = (*Client)(nil)

func New(cfg Config, log logx.Logger) *Client {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), max(1, int(cfg.SendRatePerSec)))
	}
	return &Client{
		cfg:     cfg,
		log:     log.AtLeast(logx.LevelWarn).With(logx.String("comp", "telegram")),
		roster:  newRoster(),
		limiter: lim,
	}
}

func (c *Client) Connect(ctx context.Context, creds []byte) (transport.Session, error) {
	token, err := DecodeCredentials(creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrLoggedOut, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &session{
		client:  c,
		log:     c.log,
		events:  make(chan transport.Event, 64),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     c.cfg.URL,
		Token:   token,
		Poller:  &tele.LongPoller{Timeout: c.cfg.PollTimeout},
		Client:  &http.Client{Timeout: c.cfg.PollTimeout + 10*time.Second},
		OnError: s.onError,
	})
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("%w: %w", transport.ErrLoggedOut, err)
		}
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	s.bot = bot
	s.self = transport.UserJID(bot.Me.ID)
	s.register()
	s.start()
	return s, nil
}

type session struct {
	client  *Client
	bot     *tele.Bot
	self    transport.JID
	log     logx.Logger
	started time.Time

	sup *rtsup.Supervisor

	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func (s *session) register() {
	s.bot.Handle(tele.OnText, func(c tele.Context) error {
		s.onText(c.Message())
		return nil
	})
	s.bot.Handle(tele.OnUserJoined, func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Chat != nil && m.UserJoined != nil {
			s.client.roster.observe(m.Chat.ID, m.UserJoined.ID, m.UserJoined.Username)
		}
		return nil
	})
	s.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Chat != nil && m.UserLeft != nil {
			s.client.roster.forget(m.Chat.ID, m.UserLeft.ID)
		}
		return nil
	})
}

func (s *session) start() {
	s.sup = rtsup.NewSupervisor(context.Background(),
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		s.bot.Stop()
	})
	s.sup.Go0("telebot.poll", func(context.Context) {
		s.bot.Start()
	})
	s.sup.Go0("telebot.heartbeat", s.heartbeat)

	s.emit(transport.Event{
		Kind:       transport.EventConnection,
		Connection: &transport.ConnectionUpdate{State: transport.ConnOpen},
	})
}

// heartbeat calls getMe; poller errors are not surfaced by the library
// unless it runs verbose, so a revoked token is detected here.
func (s *session) heartbeat(ctx context.Context) {
	t := time.NewTicker(s.client.cfg.Heartbeat)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		_, err := s.bot.Raw("getMe", nil)
		switch {
		case err == nil:
			failures = 0
		case isUnauthorized(err):
			s.shutdown(fmt.Errorf("%w: %w", transport.ErrLoggedOut, err))
			return
		default:
			failures++
			s.log.Warn("heartbeat failed", logx.Int("failures", failures), logx.Err(err))
			if failures >= maxHeartbeatFailures {
				s.shutdown(fmt.Errorf("%w: %w", transport.ErrConnectionClosed, err))
				return
			}
		}
	}
}

func (s *session) onError(err error, _ tele.Context) {
	if isUnauthorized(err) {
		s.shutdown(fmt.Errorf("%w: %w", transport.ErrLoggedOut, err))
		return
	}
	s.log.Warn("telegram error", logx.Err(err))
}

func (s *session) onText(m *tele.Message) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return
	}
	chat := chatJID(m.Chat)
	msg := transport.Message{
		ID:       strconv.Itoa(m.ID),
		Chat:     chat,
		FromSelf: s.bot.Me != nil && m.Sender.ID == s.bot.Me.ID,
		Payload:  s.payload(m),
	}
	if chat.IsGroup() {
		s.client.roster.observe(m.Chat.ID, m.Sender.ID, m.Sender.Username)
		msg.Participant = transport.UserJID(m.Sender.ID)
	}

	class := transport.ClassNotify
	if time.Unix(m.Unixtime, 0).Before(s.started.Add(-backlogSkew)) {
		class = transport.ClassAppend
	}
	s.emit(transport.Event{
		Kind:  transport.EventMessages,
		Batch: &transport.MessageBatch{Class: class, Messages: []transport.Message{msg}},
	})
}

func (s *session) payload(m *tele.Message) *transport.Payload {
	var mentions []transport.JID
	for _, e := range m.Entities {
		switch e.Type {
		case tele.EntityTMention:
			if e.User != nil {
				mentions = append(mentions, transport.UserJID(e.User.ID))
			}
		case tele.EntityMention:
			if id, ok := s.client.roster.byUsername(m.EntityText(e)); ok {
				mentions = append(mentions, transport.UserJID(id))
			}
		}
	}
	if len(mentions) == 0 {
		return &transport.Payload{Conversation: m.Text}
	}
	return &transport.Payload{ExtendedText: &transport.ExtendedText{Text: m.Text, MentionedJIDs: mentions}}
}

func (s *session) emit(ev transport.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// shutdown stops polling and delivers the final close update before closing
// the event stream. Only the first reason counts.
func (s *session) shutdown(reason error) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sup.Cancel()
		go func() {
			wctx, cancel := context.WithTimeout(context.Background(), stopGrace)
			if err := s.sup.Wait(wctx); err != nil {
				s.log.Warn("telegram stop timed out", logx.Err(err))
			}
			cancel()

			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()

			final := transport.Event{
				Kind:       transport.EventConnection,
				Connection: &transport.ConnectionUpdate{State: transport.ConnClose, Reason: reason},
			}
			select {
			case s.events <- final:
			case <-time.After(stopGrace):
			}
			close(s.events)
		}()
	})
}

func (s *session) Events() <-chan transport.Event { return s.events }

func (s *session) Self() transport.JID { return s.self }

func (s *session) Close() error {
	s.shutdown(transport.ErrConnectionClosed)
	return nil
}

func (s *session) SendMessage(ctx context.Context, to transport.JID, msg transport.OutgoingMessage) error {
	id, err := chatID(to)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrActionFailed, err)
	}
	chat := &tele.Chat{ID: id}
	mentions := msg.Mentions
	for _, chunk := range splitText(msg.Text, textLimit) {
		if err := s.client.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrActionFailed, err)
		}
		ents, used := mentionEntities(chunk, mentions)
		mentions = mentions[used:]

		opts := &tele.SendOptions{}
		if len(ents) > 0 {
			opts.Entities = ents
		}
		if _, err := s.bot.Send(chat, chunk, opts); err != nil {
			return fmt.Errorf("%w: send to %s: %w", transport.ErrActionFailed, to, err)
		}
	}
	return nil
}

// RemoveParticipants kicks members: ban, then unban so they may rejoin.
func (s *session) RemoveParticipants(ctx context.Context, group transport.JID, members []transport.JID) error {
	gid, err := chatID(group)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrActionFailed, err)
	}
	chat := &tele.Chat{ID: gid}

	var errs []error
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		uid, err := chatID(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		user := &tele.User{ID: uid}
		if err := s.bot.Ban(chat, &tele.ChatMember{User: user}); err != nil {
			errs = append(errs, fmt.Errorf("ban %s: %w", m, err))
			continue
		}
		s.client.roster.forget(gid, uid)
		if err := s.bot.Unban(chat, user, true); err != nil {
			errs = append(errs, fmt.Errorf("unban %s: %w", m, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", transport.ErrActionFailed, errors.Join(errs...))
	}
	return nil
}

// GroupMetadata returns the chat title, its administrators and every other
// member observed so far.
func (s *session) GroupMetadata(ctx context.Context, group transport.JID) (transport.GroupContext, error) {
	gid, err := chatID(group)
	if err != nil {
		return transport.GroupContext{}, fmt.Errorf("%w: %w", transport.ErrActionFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return transport.GroupContext{}, err
	}
	chat, err := s.bot.ChatByID(gid)
	if err != nil {
		return transport.GroupContext{}, fmt.Errorf("%w: chat %s: %w", transport.ErrActionFailed, group, err)
	}
	if err := ctx.Err(); err != nil {
		return transport.GroupContext{}, err
	}
	admins, err := s.bot.AdminsOf(chat)
	if err != nil {
		return transport.GroupContext{}, fmt.Errorf("%w: admins of %s: %w", transport.ErrActionFailed, group, err)
	}

	g := transport.GroupContext{ID: group, Subject: chat.Title}
	seen := map[int64]bool{}
	for _, a := range admins {
		if a.User == nil || seen[a.User.ID] {
			continue
		}
		seen[a.User.ID] = true
		s.client.roster.observe(gid, a.User.ID, a.User.Username)
		g.Participants = append(g.Participants, transport.Participant{
			JID:     transport.UserJID(a.User.ID),
			IsAdmin: a.Role == tele.Administrator || a.Role == tele.Creator,
		})
	}
	for _, uid := range s.client.roster.members(gid) {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		g.Participants = append(g.Participants, transport.Participant{JID: transport.UserJID(uid)})
	}
	return g, nil
}

func isUnauthorized(err error) bool {
	if errors.Is(err, tele.ErrUnauthorized) {
		return true
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code == http.StatusUnauthorized
	}
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "(401)") || strings.Contains(msg, "Unauthorized")
}
