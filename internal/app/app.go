package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/config"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/reminder"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/runtime/supervisor"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/storage"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store    *storage.Store
	remind   *reminder.Service
	notifier *reminder.LogNotifier

	mu     sync.Mutex
	window time.Duration

	out io.Writer
	now func() time.Time

	sup *supervisor.Supervisor
}

type Option func(*App)

// WithOutput redirects command output (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		if w != nil {
			a.out = w
		}
	}
}

// WithClock overrides "today" for due-state calculations.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// New loads the config at cfgPath (a missing file means defaults) and wires
// logging, storage and the reminder service. The store is opened lazily.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	rc, _ := mapReminderConfig(cfg)
	window, _ := dueSoonWindow(cfg)

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		window: window,
		out:    os.Stdout,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}

	a.store = storage.New(sc, log.With(logx.String("comp", "storage")))
	a.notifier = reminder.NewLogNotifier(log.With(logx.String("comp", "reminder")), a.out, cfg.Reminder.RatePerSec)
	a.remind = reminder.New(rc, a.store, a.notifier, log.With(logx.String("comp", "reminder")))
	return a, nil
}

func (a *App) Store() *storage.Store { return a.store }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

func (a *App) dueWindow() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window
}

// Close releases the store and the log file.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Run starts the background services: the reminder cron and the config
// hot-reload loop. It returns once they are started.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Init(ctx); err != nil {
		return err
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.remind.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.remind.Enabled() {
		// run once on start so a long cron interval doesn't hide overdue work
		a.sup.Go("reminder.initial", func(c context.Context) error {
			_, err := a.remind.Sweep(c)
			if err != nil {
				a.log.Warn("initial reminder sweep failed", logx.Err(err))
			}
			return nil
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if _, err := os.Stat(a.cfgm.Path()); err == nil {
		a.sup.GoRestart("config.watch", 250*time.Millisecond, 5*time.Second, func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	} else {
		a.log.Info("no config file; hot reload disabled", logx.String("path", a.cfgm.Path()))
	}

	a.log.Info("app started",
		logx.Bool("reminder", a.remind.Enabled()),
		logx.Time("next_sweep", a.remind.NextRun()))
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
			break
		}
	}

	if rc, err := mapReminderConfig(newCfg); err != nil {
		a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
	} else if err := a.remind.Apply(rc); err != nil {
		a.log.Warn("reminder reconfigure failed", logx.Err(err))
	}
	a.notifier.SetRate(newCfg.Reminder.RatePerSec)

	if w, err := dueSoonWindow(newCfg); err == nil {
		a.mu.Lock()
		a.window = w
		a.mu.Unlock()
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop unwinds the background services, each step bounded so one component
// can't stall shutdown, then closes the store.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("reminder", 2*time.Second, func(c context.Context) error { a.remind.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Int64("goroutines_left", a.sup.Counters().Active))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
