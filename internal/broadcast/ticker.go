package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	logx "groupbot/pkg/logx"
)

var tickParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Ticker calls fn on a cron schedule in a fixed location.
// fn must not block; the agent posts the tick into its own loop.
type Ticker struct {
	c    *cron.Cron
	loc  *time.Location
	spec string
	log  logx.Logger
}

func NewTicker(spec string, loc *time.Location, fn func(now time.Time), log logx.Logger) (*Ticker, error) {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Ticker{
		c:    cron.New(cron.WithParser(tickParser), cron.WithLocation(loc)),
		loc:  loc,
		spec: spec,
		log:  log.With(logx.String("comp", "broadcast.tick")),
	}
	if _, err := t.c.AddFunc(spec, func() { t.fire(fn) }); err != nil {
		return nil, fmt.Errorf("broadcast: tick spec %q: %w", spec, err)
	}
	return t, nil
}

func (t *Ticker) fire(fn func(time.Time)) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("tick panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn(time.Now().In(t.loc))
}

func (t *Ticker) Start() {
	t.c.Start()
	t.log.Info("ticker started", logx.String("spec", t.spec), logx.String("tz", t.loc.String()))
}

// Stop halts the schedule and waits for a running tick, bounded by ctx.
func (t *Ticker) Stop(ctx context.Context) {
	select {
	case <-t.c.Stop().Done():
	case <-ctx.Done():
	}
}
