package clinic

import (
	"errors"
	"fmt"
	"strings"
)

// EntryStatus enumerates the lifecycle states of a queue entry.
type EntryStatus string

const (
	// StatusWaiting marks an entry waiting in the optometrist queue.
	StatusWaiting EntryStatus = "waiting"
	// StatusOnHold marks an entry parked in the eye drop queue.
	StatusOnHold EntryStatus = "on_hold"
	// StatusReady marks an entry ready for the ophthalmologist.
	StatusReady EntryStatus = "ready"
	// StatusAssigned marks an entry assigned to a specific doctor.
	StatusAssigned EntryStatus = "assigned"
	// StatusCalled marks an entry called into an exam room.
	StatusCalled EntryStatus = "called"
	// StatusCompleted marks an entry whose consultation has finished.
	StatusCompleted EntryStatus = "completed"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPatientID indicates an empty or oversized patient identifier.
	ErrInvalidPatientID = errors.New("clinic: invalid patient id")
	// ErrInvalidEntryID indicates an empty or oversized queue entry identifier.
	ErrInvalidEntryID = errors.New("clinic: invalid queue entry id")
)

// PatientID represents a validated patient identifier.
type PatientID string

// NewPatientID validates raw input and returns a PatientID.
func NewPatientID(rawInput string) (PatientID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPatientID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPatientID, maxIdentifierLength)
	}
	return PatientID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PatientID) String() string {
	return string(id)
}

// EntryID represents a validated queue entry identifier.
type EntryID string

// NewEntryID validates raw input and returns an EntryID.
func NewEntryID(rawInput string) (EntryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntryID, maxIdentifierLength)
	}
	return EntryID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EntryID) String() string {
	return string(id)
}

// Patient models a registered patient.
type Patient struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	FirstName        string `gorm:"column:first_name;size:190;not null"`
	LastName         string `gorm:"column:last_name;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Patient) TableName() string {
	return "patients"
}

// FullName renders the patient's display name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// QueueEntry models one visit moving through the clinic queues.
type QueueEntry struct {
	ID               string      `gorm:"column:id;primaryKey;size:190;not null"`
	PatientID        string      `gorm:"column:patient_id;size:190;not null;index:idx_entries_patient"`
	Status           EntryStatus `gorm:"column:status;size:32;not null;index:idx_entries_status"`
	Position         int         `gorm:"column:position;not null;default:0"`
	Reason           string      `gorm:"column:reason;size:500;not null;default:''"`
	AssignedDoctorID string      `gorm:"column:assigned_doctor_id;size:190;not null;default:''"`
	HeldAtSeconds    int64       `gorm:"column:held_at_s;not null;default:0"`
	CreatedAtSeconds int64       `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64       `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (QueueEntry) TableName() string {
	return "queue_entries"
}
