package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridian-eyecare/queuepulse/internal/realtime"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrPatientNotFound indicates the patient identifier resolves to no record.
	ErrPatientNotFound = errors.New("clinic: patient not found")
	// ErrEntryNotFound indicates the queue entry identifier resolves to no record.
	ErrEntryNotFound = errors.New("clinic: queue entry not found")
	// ErrInvalidTransition indicates the entry is not in a state the operation accepts.
	ErrInvalidTransition = errors.New("clinic: invalid status transition")
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "clinic.service.new"
	opRegisterPatient = "clinic.register_patient"
	opGetPatient      = "clinic.get_patient"
	opCheckIn         = "clinic.check_in"
	opPlaceOnHold     = "clinic.place_on_hold"
	opResume          = "clinic.resume"
	opMarkReady       = "clinic.mark_ready"
	opAssign          = "clinic.assign"
	opRelease         = "clinic.release"
	opCall            = "clinic.call"
	opComplete        = "clinic.complete"
	opReorder         = "clinic.reorder"
	opListEntries     = "clinic.list_entries"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues new record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Publisher pushes one event to a named channel. The hub satisfies this.
type Publisher interface {
	Publish(channel, eventType string, payload map[string]any)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Publisher  Publisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns patient registration and queue entry state transitions. Every
// successful transition publishes the matching event to the channels whose
// listings it changes; persistence and publication are not atomic, the event
// is advisory and clients refetch listings on receipt.
type Service struct {
	db         *gorm.DB
	publisher  Publisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		publisher:  cfg.Publisher,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// RegisterPatient creates a patient record.
func (s *Service) RegisterPatient(ctx context.Context, firstName, lastName string) (Patient, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return Patient{}, newServiceError(opRegisterPatient, "id_generation", err)
	}

	patient := Patient{
		ID:               id,
		FirstName:        firstName,
		LastName:         lastName,
		CreatedAtSeconds: s.clock().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&patient).Error; err != nil {
		return Patient{}, newServiceError(opRegisterPatient, "persist", err)
	}
	return patient, nil
}

// GetPatient loads one patient record.
func (s *Service) GetPatient(ctx context.Context, patientID PatientID) (Patient, error) {
	var patient Patient
	err := s.db.WithContext(ctx).First(&patient, "id = ?", patientID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Patient{}, ErrPatientNotFound
	}
	if err != nil {
		return Patient{}, newServiceError(opGetPatient, "query", err)
	}
	return patient, nil
}

// CheckIn creates a waiting queue entry for the patient and announces it.
func (s *Service) CheckIn(ctx context.Context, patientID PatientID) (QueueEntry, error) {
	patient, err := s.GetPatient(ctx, patientID)
	if err != nil {
		return QueueEntry{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return QueueEntry{}, newServiceError(opCheckIn, "id_generation", err)
	}

	position, err := s.nextPosition(ctx)
	if err != nil {
		return QueueEntry{}, newServiceError(opCheckIn, "position_query", err)
	}

	now := s.clock().Unix()
	entry := QueueEntry{
		ID:               id,
		PatientID:        patient.ID,
		Status:           StatusWaiting,
		Position:         position,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return QueueEntry{}, newServiceError(opCheckIn, "persist", err)
	}

	s.publishEntry(realtime.WireQueueUpdated, entry, patient,
		realtime.ChannelOptometristQueue)
	return entry, nil
}

// PlaceOnHold parks a waiting entry in the eye drop queue.
func (s *Service) PlaceOnHold(ctx context.Context, entryID EntryID, reason string) (QueueEntry, error) {
	return s.transition(ctx, opPlaceOnHold, entryID, []EntryStatus{StatusWaiting},
		func(entry *QueueEntry) {
			entry.Status = StatusOnHold
			entry.Reason = reason
			entry.HeldAtSeconds = s.clock().Unix()
		},
		func(entry QueueEntry, patient Patient) {
			s.publishEntry(realtime.WireHoldAdded, entry, patient, realtime.ChannelEyeDropQueue)
		})
}

// Resume returns a held entry to the waiting queue.
func (s *Service) Resume(ctx context.Context, entryID EntryID) (QueueEntry, error) {
	return s.transition(ctx, opResume, entryID, []EntryStatus{StatusOnHold},
		func(entry *QueueEntry) {
			entry.Status = StatusWaiting
			entry.HeldAtSeconds = 0
		},
		func(entry QueueEntry, patient Patient) {
			s.publishEntry(realtime.WireHoldRemoved, entry, patient, realtime.ChannelEyeDropQueue)
			s.publishEntry(realtime.WireResumed, entry, patient, realtime.ChannelOptometristQueue)
		})
}

// MarkReady promotes a waiting entry for the ophthalmologist.
func (s *Service) MarkReady(ctx context.Context, entryID EntryID) (QueueEntry, error) {
	return s.transition(ctx, opMarkReady, entryID, []EntryStatus{StatusWaiting, StatusCalled},
		func(entry *QueueEntry) {
			entry.Status = StatusReady
		},
		func(entry QueueEntry, patient Patient) {
			s.publishEntry(realtime.WireMarkedReady, entry, patient, realtime.ChannelOphthalmologistQueue)
		})
}

// Assign hands a ready entry to a specific doctor.
func (s *Service) Assign(ctx context.Context, entryID EntryID, doctorID string) (QueueEntry, error) {
	return s.transition(ctx, opAssign, entryID, []EntryStatus{StatusReady},
		func(entry *QueueEntry) {
			entry.Status = StatusAssigned
			entry.AssignedDoctorID = doctorID
		},
		func(entry QueueEntry, patient Patient) {
			s.publishEntry(realtime.WireAssigned, entry, patient, realtime.DoctorChannel(doctorID))
		})
}

// Release returns an assigned entry to the shared ready pool.
func (s *Service) Release(ctx context.Context, entryID EntryID) (QueueEntry, error) {
	return s.transition(ctx, opRelease, entryID, []EntryStatus{StatusAssigned},
		func(entry *QueueEntry) {
			entry.Status = StatusReady
			entry.AssignedDoctorID = ""
		},
		func(entry QueueEntry, patient Patient) {
			s.publishEntry(realtime.WireAvailable, entry, patient, realtime.ChannelOphthalmologistQueue)
		})
}

// Call summons a waiting entry to an exam room.
func (s *Service) Call(ctx context.Context, entryID EntryID) (QueueEntry, error) {
	return s.transition(ctx, opCall, entryID, []EntryStatus{StatusWaiting},
		func(entry *QueueEntry) {
			entry.Status = StatusCalled
		},
		func(entry QueueEntry, patient Patient) {
			s.publishEntry(realtime.WirePatientCalled, entry, patient, realtime.ChannelOptometristQueue)
		})
}

// Complete closes out a consultation. The doctor the entry was assigned to
// hears it on their personal channel; the ophthalmologist queue hears it too
// because the shared listing shrinks.
func (s *Service) Complete(ctx context.Context, entryID EntryID) (QueueEntry, error) {
	return s.transition(ctx, opComplete, entryID, []EntryStatus{StatusAssigned, StatusCalled},
		func(entry *QueueEntry) {
			entry.Status = StatusCompleted
		},
		func(entry QueueEntry, patient Patient) {
			channels := []string{realtime.ChannelOphthalmologistQueue}
			if entry.AssignedDoctorID != "" {
				channels = append(channels, realtime.DoctorChannel(entry.AssignedDoctorID))
			}
			s.publishEntry(realtime.WireCheckedIn, entry, patient, channels...)
		})
}

// Reorder rewrites positions for the given entries in the order supplied and
// announces the reshuffle.
func (s *Service) Reorder(ctx context.Context, orderedIDs []EntryID) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, entryID := range orderedIDs {
			result := tx.Model(&QueueEntry{}).
				Where("id = ?", entryID.String()).
				Updates(map[string]any{
					"position":     index,
					"updated_at_s": s.clock().Unix(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
			}
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrEntryNotFound) {
			return txErr
		}
		return newServiceError(opReorder, "persist", txErr)
	}

	s.publish(realtime.WireQueueReordered, map[string]any{
		"timestamp": s.clock().UTC().Format(time.RFC3339Nano),
	}, realtime.ChannelOptometristQueue, realtime.ChannelOphthalmologistQueue)
	return nil
}

// ListByStatus returns entries in a given state ordered by position.
func (s *Service) ListByStatus(ctx context.Context, status EntryStatus) ([]QueueEntry, error) {
	var entries []QueueEntry
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("position asc").
		Find(&entries).Error
	if err != nil {
		return nil, newServiceError(opListEntries, "query", err)
	}
	return entries, nil
}

// GetEntry loads one queue entry.
func (s *Service) GetEntry(ctx context.Context, entryID EntryID) (QueueEntry, error) {
	var entry QueueEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", entryID.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return QueueEntry{}, ErrEntryNotFound
	}
	if err != nil {
		return QueueEntry{}, newServiceError(opListEntries, "query", err)
	}
	return entry, nil
}

// transition loads the entry, checks it is in an accepted state, applies the
// mutation, persists, and publishes.
func (s *Service) transition(
	ctx context.Context,
	operation string,
	entryID EntryID,
	accepted []EntryStatus,
	mutate func(*QueueEntry),
	announce func(QueueEntry, Patient),
) (QueueEntry, error) {
	entry, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return QueueEntry{}, err
	}

	allowed := false
	for _, status := range accepted {
		if entry.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return QueueEntry{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, entryID, entry.Status)
	}

	mutate(&entry)
	entry.UpdatedAtSeconds = s.clock().Unix()
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return QueueEntry{}, newServiceError(operation, "persist", err)
	}

	patient, err := s.GetPatient(ctx, PatientID(entry.PatientID))
	if err != nil {
		// The transition is committed; announce with what we have.
		s.logger.Warn("patient record missing for announcement",
			zap.String("queue_entry_id", entry.ID), zap.Error(err))
		patient = Patient{ID: entry.PatientID}
	}
	announce(entry, patient)
	return entry, nil
}

func (s *Service) nextPosition(ctx context.Context) (int, error) {
	var highest int
	err := s.db.WithContext(ctx).
		Model(&QueueEntry{}).
		Select("COALESCE(MAX(position), -1)").
		Scan(&highest).Error
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func (s *Service) publishEntry(eventType string, entry QueueEntry, patient Patient, channels ...string) {
	payload := map[string]any{
		"queue_entry_id": entry.ID,
		"timestamp":      s.clock().UTC().Format(time.RFC3339Nano),
		"patient_id":     entry.PatientID,
	}
	if patient.FullName() != "" {
		payload["patient"] = map[string]any{
			"first_name": patient.FirstName,
			"last_name":  patient.LastName,
		}
	}
	if entry.Reason != "" {
		payload["reason"] = entry.Reason
	}
	s.publish(eventType, payload, channels...)
}

func (s *Service) publish(eventType string, payload map[string]any, channels ...string) {
	if s.publisher == nil {
		return
	}
	for _, channel := range channels {
		s.publisher.Publish(channel, eventType, payload)
	}
}
