// Package app wires the session manager, inbound pipeline, moderation,
// commands and the broadcast scheduler into one supervised agent.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"groupbot/internal/broadcast"
	"groupbot/internal/command"
	"groupbot/internal/config"
	"groupbot/internal/eventbus"
	"groupbot/internal/inbound"
	"groupbot/internal/moderation"
	"groupbot/internal/pairing"
	"groupbot/internal/runtime/sdnotify"
	"groupbot/internal/runtime/supervisor"
	"groupbot/internal/session"
	"groupbot/internal/storage"
	"groupbot/internal/transport"
	"groupbot/internal/transport/telegram"
	logx "groupbot/pkg/logx"
)

const jobQueue = 64

type Agent struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	sd    *sdnotify.Notifier

	creds *session.CredentialStore
	mgr   *session.Manager
	norm  *inbound.Normalizer
	mod   *moderation.Engine
	cmds  *command.Router
	sched *broadcast.Scheduler

	tickMu sync.Mutex
	ticker *broadcast.Ticker
}

type options struct {
	client     transport.Client
	pairingOut io.Writer
}

type Option func(*options)

// WithClient replaces the Telegram client.
func WithClient(c transport.Client) Option { return func(o *options) { o.client = c } }

// WithPairingOutput sets where pairing codes are rendered (stdout by default).
func WithPairingOutput(w io.Writer) Option { return func(o *options) { o.pairingOut = w } }

func NewAgent(cfgPath string, opts ...Option) (*Agent, error) {
	o := options{pairingOut: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	actionTimeout, err := config.ParseDurationOrDefault("transport.action_timeout", cfg.Transport.ActionTimeout, config.DefaultActionTimeout)
	if err != nil {
		return nil, err
	}
	backoffMin, backoffMax, err := cfg.Backoff()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	creds, err := session.OpenCredentialStore(cfg.Session.AuthDir)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	if err := seedCredentials(creds, cfg, log); err != nil {
		closeStore(store)
		return nil, err
	}

	client := o.client
	if client == nil {
		client, err = newTelegramClient(cfg, log)
		if err != nil {
			closeStore(store)
			return nil, err
		}
	}

	matcher, err := moderation.NewMatcher(cfg.Moderation.ForbiddenWords)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	bus := eventbus.New()
	sd := sdnotify.New(log.With(logx.String("comp", "systemd")))

	a := &Agent{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		sd:    sd,
		creds: creds,
		norm:  inbound.NewNormalizer(actionTimeout),
	}
	a.mgr = session.New(session.Config{
		BackoffMin: backoffMin,
		BackoffMax: backoffMax,
		JobQueue:   jobQueue,
	}, client, creds,
		session.WithLogger(log.With(logx.String("comp", "session"))),
		session.WithBus(bus),
		session.WithNotifier(sd),
		session.WithPairing(pairing.NewDisplay(o.pairingOut, log.With(logx.String("comp", "pairing")))),
	)
	a.mod = moderation.NewEngine(matcher,
		moderation.WithLogger(log.With(logx.String("comp", "moderation"))),
		moderation.WithStore(store),
		moderation.WithBus(bus),
		moderation.WithActionTimeout(actionTimeout),
	)
	a.sched = broadcast.NewScheduler(
		broadcast.WithLogger(log.With(logx.String("comp", "broadcast"))),
		broadcast.WithStore(store),
		broadcast.WithBus(bus),
		broadcast.WithActionTimeout(actionTimeout),
	)
	a.cmds = command.NewRouter(a.sched,
		command.WithLogger(log.With(logx.String("comp", "commands"))),
		command.WithStore(store),
		command.WithTimeout(actionTimeout),
	)
	logSvc.SetSender(a)

	return a, nil
}

func newTelegramClient(cfg *config.Config, log logx.Logger) (*telegram.Client, error) {
	poll, err := config.ParseDurationOrDefault("transport.poll_timeout", cfg.Transport.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	return telegram.New(telegram.Config{
		PollTimeout:    poll,
		SendRatePerSec: float64(cfg.Transport.SendRatePerSec),
	}, log), nil
}

// seedCredentials applies GROUPBOT_SESSION once at startup. Without it,
// transport.token fills an empty store; stored credentials always win over the token.
func seedCredentials(creds *session.CredentialStore, cfg *config.Config, log logx.Logger) error {
	blob, ok := config.SeedSession()
	source := "env"
	if !ok {
		if cfg.Transport.Token == "" || creds.Exists() {
			return nil
		}
		blob, source = telegram.EncodeCredentials(cfg.Transport.Token), "config"
	}
	if err := creds.Seed(blob); err != nil && !errors.Is(err, session.ErrAlreadySeeded) {
		return fmt.Errorf("seed credentials: %w", err)
	}
	log.Info("credentials seeded", logx.String("source", source), logx.String("path", creds.Path()))
	return nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Session exposes the session manager (state, posting jobs).
func (a *Agent) Session() *session.Manager { return a.mgr }

// Scheduler exposes the broadcast scheduler.
func (a *Agent) Scheduler() *broadcast.Scheduler { return a.sched }

// Bus exposes the event bus.
func (a *Agent) Bus() eventbus.Bus { return a.bus }

// Done is closed when the agent supervisor context is canceled (fatal error or Stop()).
func (a *Agent) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *Agent) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *Agent) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Logging.Chat.Enabled {
			if _, err := transport.ParseJID(cfg.Logging.Chat.Target); err != nil {
				return fmt.Errorf("logging.chat.target: %w", err)
			}
		}
		_, err := moderation.NewMatcher(cfg.Moderation.ForbiddenWords)
		return err
	})

	if err := a.startTicker(a.cfgm.Get()); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("session", func(c context.Context) error {
		return a.mgr.Run(c, a)
	})

	a.sup.Go("systemd.watchdog", a.sd.Watchdog)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })

	// A broken watcher must not take the agent down; restart it instead.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithMaxRestarts(10),
	)

	a.log.Info("agent started")
	return nil
}

func (a *Agent) startTicker(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	t, err := broadcast.NewTicker(cfg.Scheduler.Tick, loc, a.onTick, a.log)
	if err != nil {
		return err
	}
	a.tickMu.Lock()
	old := a.ticker
	a.ticker = t
	a.tickMu.Unlock()
	if old != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		old.Stop(stopCtx)
		cancel()
	}
	t.Start()
	return nil
}

func (a *Agent) stopTicker(ctx context.Context) {
	a.tickMu.Lock()
	t := a.ticker
	a.ticker = nil
	a.tickMu.Unlock()
	if t != nil {
		t.Stop(ctx)
	}
}

func (a *Agent) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel first so the session loop and config goroutines start unwinding.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	step("ticker", 2*time.Second, func(c context.Context) error { a.stopTicker(c); return nil })
	// The session loop closes the live transport session on cancel.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
