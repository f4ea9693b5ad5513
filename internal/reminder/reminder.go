// Package reminder periodically scans customer records for service milestones
// that are overdue or coming up, and hands them to a Notifier.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

// Lister is the read side of the record store.
type Lister interface {
	GetAll(ctx context.Context) ([]customer.Record, error)
}

// Notice is one pending milestone.
type Notice struct {
	RecordID           string
	CustomerName       string
	RegistrationNumber string
	Milestone          schedule.Milestone
	Due                time.Time
	State              schedule.DueState
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

type Config struct {
	Enabled  bool
	Spec     string
	Timezone string
	Window   time.Duration
	// SweepTimeout bounds one sweep; 0 means 1m.
	SweepTimeout time.Duration
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store    Lister
	notifier Notifier
	log      logx.Logger
	now      func() time.Time

	parser  cron.Parser
	c       *cron.Cron
	entryID cron.EntryID
	runCtx  context.Context

	lastRun time.Time
	lastErr error
}

func New(cfg Config, store Lister, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate checks a config without applying it.
func Validate(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(specOrDefault(cfg.Spec)); err != nil {
		return fmt.Errorf("reminder.spec: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("reminder.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

func specOrDefault(spec string) string {
	if s := strings.TrimSpace(spec); s != "" {
		return s
	}
	return "@daily"
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Sweep loads every record and notifies each milestone that is not completed
// and is overdue or due soon. Notifier errors are logged and do not stop the sweep.
func (s *Service) Sweep(ctx context.Context) ([]Notice, error) {
	s.mu.Lock()
	window := s.cfg.Window
	s.mu.Unlock()

	recs, err := s.store.GetAll(ctx)
	if err != nil {
		s.recordRun(err)
		return nil, err
	}
	notices := Pending(recs, s.now(), window)
	for _, n := range notices {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			if ctx.Err() != nil {
				s.recordRun(ctx.Err())
				return notices, ctx.Err()
			}
			s.log.Warn("reminder delivery failed", logx.String("record", n.RecordID), logx.String("milestone", n.Milestone.String()), logx.Err(err))
		}
	}
	s.recordRun(nil)
	return notices, nil
}

func (s *Service) recordRun(err error) {
	s.mu.Lock()
	s.lastRun = s.now()
	s.lastErr = err
	s.mu.Unlock()
}

// LastRun reports when the previous sweep finished and its error.
func (s *Service) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

// Pending lists overdue and due-soon milestones that are not completed, in
// record order then milestone order.
func Pending(recs []customer.Record, now time.Time, window time.Duration) []Notice {
	var out []Notice
	for _, r := range recs {
		dates := r.Schedule()
		for _, m := range schedule.Milestones {
			if r.ServiceStatus.Get(m) {
				continue
			}
			due := dates.At(m)
			st := schedule.Due(due, now, window)
			if st == schedule.Scheduled {
				continue
			}
			out = append(out, Notice{
				RecordID:           r.ID,
				CustomerName:       r.CustomerName,
				RegistrationNumber: r.RegistrationNumber,
				Milestone:          m,
				Due:                due,
				State:              st,
			})
		}
	}
	return out
}

// Start begins cron-triggered sweeps. When disabled it only records ctx so a
// later Apply can enable the service.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx = ctx
	if !s.cfg.Enabled {
		return nil
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	s.log.Info("service started", logx.String("spec", specOrDefault(s.cfg.Spec)), logx.String("tz", s.c.Location().String()))
	return nil
}

func (s *Service) startLocked() error {
	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("reminder.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}
	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id, err := c.AddFunc(specOrDefault(s.cfg.Spec), s.runScheduled)
	if err != nil {
		return fmt.Errorf("reminder.spec: %w", err)
	}
	s.c = c
	s.entryID = id
	c.Start()
	return nil
}

func (s *Service) runScheduled() {
	s.mu.Lock()
	ctx := s.runCtx
	timeout := s.cfg.SweepTimeout
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	notices, err := s.Sweep(ctx)
	if err != nil {
		s.log.Warn("reminder sweep failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("reminder sweep done", logx.Int("notices", len(notices)), logx.Duration("took", time.Since(start)))
}

// NextRun reports the next scheduled sweep (zero when not running).
func (s *Service) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entryID).Next
}

// Apply swaps the config. A running cron is restarted when the trigger
// (enabled/spec/timezone) changes.
func (s *Service) Apply(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg

	trigger := old.Enabled != cfg.Enabled ||
		strings.TrimSpace(old.Spec) != strings.TrimSpace(cfg.Spec) ||
		strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone)
	if !trigger || s.runCtx == nil {
		return nil
	}

	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	if !cfg.Enabled {
		s.log.Info("service disabled")
		return nil
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	s.log.Info("service rescheduled", logx.String("spec", specOrDefault(cfg.Spec)))
	return nil
}

// Stop halts triggering and waits for a running sweep (or ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.runCtx = nil
	s.mu.Unlock()
	// A disabled service has no cron to wait for.

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}
