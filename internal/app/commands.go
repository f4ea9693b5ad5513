package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/report"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
	logx "github.com/expediti/Auto-Vehicle-Scheduler/pkg/logx"
)

var (
	// ErrUsage marks bad command-line input; the caller should print usage.
	ErrUsage    = errors.New("usage")
	ErrNotFound = errors.New("customer not found")
)

// Usage is printed for `help` and on ErrUsage.
const Usage = `autodate - vehicle service schedule manager

Usage:
  autodate [-config <path>] <command> [arguments]

Commands:
  add -name <n> -model <m> -reg <r> -date <YYYY-MM-DD>   Register a customer
  list [-q <query>]                                       List customers, newest first
  show <id>                                               Show one customer's schedule
  toggle <id> <first|second|third>                        Flip a service's completed flag
  edit <id> [-name] [-model] [-reg] [-date]               Correct a customer's details
  delete <id>                                             Remove a customer
  export <id> [-format text|json|yaml] [-out <path>]      Write the schedule report
  schema                                                  Print the on-disk schema version
  watch                                                   Run reminders until interrupted
`

// Exec runs one command. watch is handled by the caller (it needs signals).
func (a *App) Exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "add":
		return a.cmdAdd(ctx, args)
	case "list", "ls":
		return a.cmdList(ctx, args)
	case "show":
		return a.cmdShow(ctx, args)
	case "toggle":
		return a.cmdToggle(ctx, args)
	case "edit":
		return a.cmdEdit(ctx, args)
	case "delete", "rm":
		return a.cmdDelete(ctx, args)
	case "export":
		return a.cmdExport(ctx, args)
	case "schema":
		return a.cmdSchema(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected argument %q", ErrUsage, fs.Name(), fs.Arg(0))
	}
	return nil
}

// splitID takes the leading positional id and returns the rest for flag parsing.
func splitID(cmd string, args []string) (string, []string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") || strings.TrimSpace(args[0]) == "" {
		return "", nil, fmt.Errorf("%w: %s: missing <id>", ErrUsage, cmd)
	}
	return strings.TrimSpace(args[0]), args[1:], nil
}

func (a *App) mustGet(ctx context.Context, id string) (customer.Record, error) {
	r, ok, err := a.store.Get(ctx, id)
	if err != nil {
		return customer.Record{}, err
	}
	if !ok {
		return customer.Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

func (a *App) cmdAdd(ctx context.Context, args []string) error {
	fs := newFlagSet("add")
	name := fs.String("name", "", "customer name")
	model := fs.String("model", "", "vehicle model")
	reg := fs.String("reg", "", "registration number")
	date := fs.String("date", "", "purchase date (YYYY-MM-DD)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	r, err := customer.NewRecord(*name, *model, *reg, *date)
	if err != nil {
		return err
	}
	if err := a.store.Save(ctx, &r); err != nil {
		return err
	}
	a.log.Info("customer added", logx.String("id", r.ID), logx.String("registration", r.RegistrationNumber))

	fmt.Fprintf(a.out, "Added %s (%s)\n", r.CustomerName, r.ID)
	a.printSchedule(r)
	return nil
}

func (a *App) printSchedule(r customer.Record) {
	dates := r.Schedule()
	now := a.now()
	window := a.dueWindow()
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, m := range schedule.Milestones {
		mark := "[ ]"
		if r.ServiceStatus.Get(m) {
			mark = "[x]"
		}
		due := dates.At(m)
		fmt.Fprintf(tw, "  %s %s\t%s\t%s\n", mark, m.Label(), schedule.FormatDate(due), schedule.Due(due, now, window).Label())
	}
	_ = tw.Flush()
}

func (a *App) cmdList(ctx context.Context, args []string) error {
	fs := newFlagSet("list")
	query := fs.String("q", "", "filter by name, registration or model")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	all, err := a.store.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(a.out, "No customers yet. Add one with `autodate add`.")
		return nil
	}
	recs := customer.Filter(all, *query)
	if len(recs) == 0 {
		fmt.Fprintf(a.out, "No customers match %q.\n", strings.TrimSpace(*query))
		return nil
	}

	now := a.now()
	window := a.dueWindow()
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCUSTOMER\tVEHICLE\tREGISTRATION\tPURCHASED\tPROGRESS\tNEXT SERVICE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			r.ID, r.CustomerName, r.VehicleModel, r.RegistrationNumber, r.PurchaseDateString(),
			schedule.Progress(r.ServiceStatus.Completed()), nextService(r, now, window))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(recs) != len(all) {
		fmt.Fprintf(a.out, "%d of %d customers\n", len(recs), len(all))
	}
	return nil
}

func nextService(r customer.Record, now time.Time, window time.Duration) string {
	dates := r.Schedule()
	for _, m := range schedule.Milestones {
		if r.ServiceStatus.Get(m) {
			continue
		}
		due := dates.At(m)
		return fmt.Sprintf("%s %s (%s)", m.Label(), due.Format(schedule.DateLayout), schedule.Due(due, now, window).Label())
	}
	return "all done"
}

func (a *App) cmdShow(ctx context.Context, args []string) error {
	id, rest, err := splitID("show", args)
	if err != nil {
		return err
	}
	if err := parseFlags(newFlagSet("show"), rest); err != nil {
		return err
	}
	r, err := a.mustGet(ctx, id)
	if err != nil {
		return err
	}
	return report.WriteText(a.out, report.Build(r, a.now(), a.dueWindow()))
}

func (a *App) cmdToggle(ctx context.Context, args []string) error {
	id, rest, err := splitID("toggle", args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("%w: toggle: want <id> <first|second|third>", ErrUsage)
	}
	m, err := schedule.ParseMilestone(rest[0])
	if err != nil {
		return fmt.Errorf("%w: toggle: %v", ErrUsage, err)
	}

	r, err := a.mustGet(ctx, id)
	if err != nil {
		return err
	}
	r = r.WithToggled(m)
	if err := a.store.Save(ctx, &r); err != nil {
		return err
	}

	state := "pending"
	if r.ServiceStatus.Get(m) {
		state = "completed"
	}
	a.log.Info("service toggled", logx.String("id", r.ID), logx.String("milestone", m.String()), logx.String("state", state))
	fmt.Fprintf(a.out, "%s for %s marked %s (%d%% complete)\n",
		m.Label(), r.CustomerName, state, schedule.Progress(r.ServiceStatus.Completed()))
	return nil
}

func (a *App) cmdEdit(ctx context.Context, args []string) error {
	id, rest, err := splitID("edit", args)
	if err != nil {
		return err
	}
	fs := newFlagSet("edit")
	name := fs.String("name", "", "customer name")
	model := fs.String("model", "", "vehicle model")
	reg := fs.String("reg", "", "registration number")
	date := fs.String("date", "", "purchase date (YYYY-MM-DD)")
	if err := parseFlags(fs, rest); err != nil {
		return err
	}

	if fs.NFlag() == 0 {
		return fmt.Errorf("%w: edit: nothing to change", ErrUsage)
	}

	r, err := a.mustGet(ctx, id)
	if err != nil {
		return err
	}
	var dateErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			r.CustomerName = strings.TrimSpace(*name)
		case "model":
			r.VehicleModel = strings.TrimSpace(*model)
		case "reg":
			r.RegistrationNumber = strings.TrimSpace(*reg)
		case "date":
			r.PurchaseDate, dateErr = schedule.ParseDate(*date)
		}
	})
	if dateErr != nil {
		return dateErr
	}
	if err := a.store.Save(ctx, &r); err != nil {
		return err
	}
	a.log.Info("customer updated", logx.String("id", r.ID))
	fmt.Fprintf(a.out, "Updated %s (%s)\n", r.CustomerName, r.ID)
	a.printSchedule(r)
	return nil
}

func (a *App) cmdDelete(ctx context.Context, args []string) error {
	id, rest, err := splitID("delete", args)
	if err != nil {
		return err
	}
	if err := parseFlags(newFlagSet("delete"), rest); err != nil {
		return err
	}
	if err := a.store.DeleteByID(ctx, id); err != nil {
		return err
	}
	a.log.Info("customer deleted", logx.String("id", id))
	fmt.Fprintf(a.out, "Deleted %s\n", id)
	return nil
}

func (a *App) cmdExport(ctx context.Context, args []string) error {
	id, rest, err := splitID("export", args)
	if err != nil {
		return err
	}
	fs := newFlagSet("export")
	format := fs.String("format", report.FormatText, "text, json or yaml")
	out := fs.String("out", "", "output path (\"-\" for stdout; default <Name>_Service_Schedule.<ext>)")
	if err := parseFlags(fs, rest); err != nil {
		return err
	}

	var ext string
	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "", report.FormatText, "txt":
		ext = "txt"
	case report.FormatJSON:
		ext = "json"
	case report.FormatYAML, "yml":
		ext = "yaml"
	default:
		return fmt.Errorf("%w: export: unknown format %q", ErrUsage, *format)
	}

	r, err := a.mustGet(ctx, id)
	if err != nil {
		return err
	}
	s := report.Build(r, a.now(), a.dueWindow())

	if *out == "-" {
		return report.Write(a.out, s, *format)
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		path = report.FileName(r.CustomerName, ext)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, s, *format); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.log.Info("report exported", logx.String("id", r.ID), logx.String("path", path))
	fmt.Fprintf(a.out, "Wrote %s\n", path)
	return nil
}

func (a *App) cmdSchema(ctx context.Context) error {
	v, err := a.store.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "schema version %d\n", v)
	return nil
}
