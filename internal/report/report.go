// Package report renders a customer's service schedule for printing or export.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/customer"
	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
)

// Formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Service is one milestone row of the report.
type Service struct {
	Title     string `json:"title" yaml:"title"`
	Period    string `json:"period" yaml:"period"`
	Due       string `json:"due" yaml:"due"`
	DueLabel  string `json:"dueLabel" yaml:"due_label"`
	State     string `json:"state" yaml:"state"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// Schedule is the exported view of one record.
type Schedule struct {
	Generated          string    `json:"generated" yaml:"generated"`
	ID                 string    `json:"id" yaml:"id"`
	CustomerName       string    `json:"customerName" yaml:"customer_name"`
	VehicleModel       string    `json:"vehicleModel" yaml:"vehicle_model"`
	RegistrationNumber string    `json:"registrationNumber" yaml:"registration_number"`
	PurchaseDate       string    `json:"purchaseDate" yaml:"purchase_date"`
	Progress           int       `json:"progress" yaml:"progress"`
	Services           []Service `json:"services" yaml:"services"`
}

// Build derives the report for r as of now.
func Build(r customer.Record, now time.Time, window time.Duration) Schedule {
	dates := r.Schedule()
	s := Schedule{
		Generated:          schedule.FormatDate(now),
		ID:                 r.ID,
		CustomerName:       r.CustomerName,
		VehicleModel:       r.VehicleModel,
		RegistrationNumber: r.RegistrationNumber,
		PurchaseDate:       r.PurchaseDateString(),
		Progress:           schedule.Progress(r.ServiceStatus.Completed()),
		Services:           make([]Service, 0, len(schedule.Milestones)),
	}
	for _, m := range schedule.Milestones {
		due := dates.At(m)
		s.Services = append(s.Services, Service{
			Title:     m.Label(),
			Period:    m.Period(),
			Due:       due.Format(schedule.DateLayout),
			DueLabel:  schedule.FormatDate(due),
			State:     schedule.Due(due, now, window).String(),
			Completed: r.ServiceStatus.Get(m),
		})
	}
	return s
}

// Write renders s in format (text, json or yaml).
func Write(w io.Writer, s Schedule, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText, "txt":
		return WriteText(w, s)
	case FormatJSON:
		return WriteJSON(w, s)
	case FormatYAML, "yml":
		return WriteYAML(w, s)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func WriteJSON(w io.Writer, s Schedule) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func WriteYAML(w io.Writer, s Schedule) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// WriteText renders the printable report.
func WriteText(w io.Writer, s Schedule) error {
	ew := &errWriter{w: w}
	rule := strings.Repeat("=", 56)

	ew.printf("%s\n", rule)
	ew.printf("%s\n", center("AutoDate", len(rule)))
	ew.printf("%s\n", center("Service Schedule Report", len(rule)))
	ew.printf("%s\n", center("Generated: "+s.Generated, len(rule)))
	ew.printf("%s\n\n", rule)

	ew.printf("Customer Information\n--------------------\n")
	tw := tabwriter.NewWriter(ew, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Customer Name:\t%s\n", s.CustomerName)
	fmt.Fprintf(tw, "  Vehicle Model:\t%s\n", s.VehicleModel)
	fmt.Fprintf(tw, "  Registration No.:\t%s\n", s.RegistrationNumber)
	fmt.Fprintf(tw, "  Purchase Date:\t%s\n", purchaseLabel(s.PurchaseDate))
	_ = tw.Flush()

	ew.printf("\nService Schedule (%d%% complete)\n----------------\n", s.Progress)
	for _, svc := range s.Services {
		mark := "[ ]"
		if svc.Completed {
			mark = "[x]"
		}
		ew.printf("  %s %s  (%s)\n", mark, svc.Title, svc.Period)
		ew.printf("      %s  %s\n", svc.DueLabel, stateLabel(svc.State))
	}

	ew.printf("\n%s\n", strings.Repeat("-", len(rule)))
	ew.printf("%s\n", center("AutoDate Service Manager", len(rule)))
	return ew.err
}

var whitespace = regexp.MustCompile(`\s+`)

// FileName returns "<Customer_Name>_Service_Schedule.<ext>".
func FileName(customerName, ext string) string {
	name := whitespace.ReplaceAllString(strings.TrimSpace(customerName), "_")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "Customer"
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" || ext == FormatText {
		ext = "txt"
	}
	return name + "_Service_Schedule." + ext
}

func purchaseLabel(raw string) string {
	t, err := schedule.ParseDate(raw)
	if err != nil {
		return raw
	}
	return schedule.FormatDate(t)
}

func stateLabel(state string) string {
	switch state {
	case schedule.Overdue.String():
		return schedule.Overdue.Label()
	case schedule.DueSoon.String():
		return schedule.DueSoon.Label()
	default:
		return schedule.Scheduled.Label()
	}
}

func center(s string, width int) string {
	pad := (width - len(s)) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}

// errWriter keeps the first write error so rendering code stays linear.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
