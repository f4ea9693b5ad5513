// Package customer holds the vehicle-service record captured at intake.
package customer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/expediti/Auto-Vehicle-Scheduler/internal/schedule"
)

// ErrMissingField is returned when a required text field is empty.
var ErrMissingField = errors.New("required field missing")

// ServiceStatus tracks completion of the three milestones.
type ServiceStatus struct {
	First  bool `json:"first"`
	Second bool `json:"second"`
	Third  bool `json:"third"`
}

func (s ServiceStatus) Get(m schedule.Milestone) bool {
	switch m {
	case schedule.Second:
		return s.Second
	case schedule.Third:
		return s.Third
	default:
		return s.First
	}
}

func (s *ServiceStatus) Set(m schedule.Milestone, done bool) {
	switch m {
	case schedule.Second:
		s.Second = done
	case schedule.Third:
		s.Third = done
	default:
		s.First = done
	}
}

func (s *ServiceStatus) Toggle(m schedule.Milestone) { s.Set(m, !s.Get(m)) }

// Completed counts finished milestones.
func (s ServiceStatus) Completed() int {
	n := 0
	for _, m := range schedule.Milestones {
		if s.Get(m) {
			n++
		}
	}
	return n
}

// Record is the persisted customer/vehicle entity.
//
// ID and CreatedAt are assigned by the store on first save and never change.
// Updates are full replacements keyed by ID.
type Record struct {
	ID                 string        `json:"id"`
	CustomerName       string        `json:"customerName"`
	VehicleModel       string        `json:"vehicleModel"`
	RegistrationNumber string        `json:"registrationNumber"`
	PurchaseDate       time.Time     `json:"-"`
	CreatedAt          time.Time     `json:"createdAt"`
	ServiceStatus      ServiceStatus `json:"serviceStatus"`
}

// recordJSON carries PurchaseDate as "YYYY-MM-DD".
type recordJSON struct {
	ID                 string        `json:"id"`
	CustomerName       string        `json:"customerName"`
	VehicleModel       string        `json:"vehicleModel"`
	RegistrationNumber string        `json:"registrationNumber"`
	PurchaseDate       string        `json:"purchaseDate"`
	CreatedAt          time.Time     `json:"createdAt"`
	ServiceStatus      ServiceStatus `json:"serviceStatus"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		ID:                 r.ID,
		CustomerName:       r.CustomerName,
		VehicleModel:       r.VehicleModel,
		RegistrationNumber: r.RegistrationNumber,
		PurchaseDate:       r.PurchaseDateString(),
		CreatedAt:          r.CreatedAt,
		ServiceStatus:      r.ServiceStatus,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var j recordJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	var pd time.Time
	if strings.TrimSpace(j.PurchaseDate) != "" {
		t, err := schedule.ParseDate(j.PurchaseDate)
		if err != nil {
			return fmt.Errorf("purchaseDate: %w", err)
		}
		pd = t
	}
	*r = Record{
		ID:                 j.ID,
		CustomerName:       j.CustomerName,
		VehicleModel:       j.VehicleModel,
		RegistrationNumber: j.RegistrationNumber,
		PurchaseDate:       pd,
		CreatedAt:          j.CreatedAt,
		ServiceStatus:      j.ServiceStatus,
	}
	return nil
}

// NewRecord builds a record from raw intake-form values.
func NewRecord(name, model, reg, purchase string) (Record, error) {
	r := Record{
		CustomerName:       strings.TrimSpace(name),
		VehicleModel:       strings.TrimSpace(model),
		RegistrationNumber: strings.TrimSpace(reg),
	}
	if err := r.validateText(); err != nil {
		return Record{}, err
	}
	pd, err := schedule.ParseDate(purchase)
	if err != nil {
		return Record{}, err
	}
	r.PurchaseDate = pd
	return r, nil
}

// Validate checks required fields.
func (r Record) Validate() error {
	if err := r.validateText(); err != nil {
		return err
	}
	if r.PurchaseDate.IsZero() {
		return fmt.Errorf("purchaseDate: %w", schedule.ErrInvalidDate)
	}
	return nil
}

func (r Record) validateText() error {
	switch {
	case strings.TrimSpace(r.CustomerName) == "":
		return fmt.Errorf("customerName: %w", ErrMissingField)
	case strings.TrimSpace(r.VehicleModel) == "":
		return fmt.Errorf("vehicleModel: %w", ErrMissingField)
	case strings.TrimSpace(r.RegistrationNumber) == "":
		return fmt.Errorf("registrationNumber: %w", ErrMissingField)
	}
	return nil
}

// PurchaseDateString formats the purchase date as "YYYY-MM-DD" ("" when unset).
func (r Record) PurchaseDateString() string {
	if r.PurchaseDate.IsZero() {
		return ""
	}
	return r.PurchaseDate.Format(schedule.DateLayout)
}

// Schedule recomputes the service due-dates from the current purchase date.
func (r Record) Schedule() schedule.Dates {
	return schedule.Calculate(r.PurchaseDate)
}

// WithToggled returns a copy with milestone m flipped.
func (r Record) WithToggled(m schedule.Milestone) Record {
	cp := r
	cp.ServiceStatus.Toggle(m)
	return cp
}

// Filter keeps records whose customer name, registration number or vehicle
// model contains query (case-insensitive). Order is preserved.
func Filter(records []Record, query string) []Record {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.CustomerName), q) ||
			strings.Contains(strings.ToLower(r.RegistrationNumber), q) ||
			strings.Contains(strings.ToLower(r.VehicleModel), q) {
			out = append(out, r)
		}
	}
	return out
}
