package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignmentKind is the credential type linking a student to a trip.
type AssignmentKind string

const (
	KindNFCPhysical AssignmentKind = "NFC_PHYSICAL"
	KindQRPhysical  AssignmentKind = "QR_PHYSICAL"
	KindQRDigital   AssignmentKind = "QR_DIGITAL"
)

// Valid reports whether k is a known assignment kind.
func (k AssignmentKind) Valid() bool {
	switch k {
	case KindNFCPhysical, KindQRPhysical, KindQRDigital:
		return true
	}
	return false
}

// Physical reports whether tokens of this kind exist as registered stock.
func (k AssignmentKind) Physical() bool {
	return k == KindNFCPhysical || k == KindQRPhysical
}

// TokenStatus is the lifecycle state of a physical token.
type TokenStatus string

const (
	TokenAvailable TokenStatus = "AVAILABLE"
	TokenAssigned  TokenStatus = "ASSIGNED"
	TokenDamaged   TokenStatus = "DAMAGED"
	TokenLost      TokenStatus = "LOST"
)

// ScanMethod is how a presence was recorded on the mobile client.
type ScanMethod string

const (
	ScanNFCPhysical ScanMethod = "NFC_PHYSICAL"
	ScanQRPhysical  ScanMethod = "QR_PHYSICAL"
	ScanQRDigital   ScanMethod = "QR_DIGITAL"
	ScanManual      ScanMethod = "MANUAL"

	// scanLegacyNFC is sent by older mobile builds.
	scanLegacyNFC ScanMethod = "NFC"
)

// Normalize maps legacy method names onto their current value.
func (m ScanMethod) Normalize() ScanMethod {
	if m == scanLegacyNFC {
		return ScanNFCPhysical
	}
	return m
}

// Valid reports whether m (after normalisation) is a known scan method.
func (m ScanMethod) Valid() bool {
	switch m.Normalize() {
	case ScanNFCPhysical, ScanQRPhysical, ScanQRDigital, ScanManual:
		return true
	}
	return false
}

// TripStatus is the lifecycle state of a trip.
type TripStatus string

const (
	TripPlanned   TripStatus = "PLANNED"
	TripActive    TripStatus = "ACTIVE"
	TripCompleted TripStatus = "COMPLETED"
	TripArchived  TripStatus = "ARCHIVED"
)

// Valid reports whether s is a known trip status.
func (s TripStatus) Valid() bool {
	switch s {
	case TripPlanned, TripActive, TripCompleted, TripArchived:
		return true
	}
	return false
}

// Concluded reports whether tokens of a trip in this status should be released.
func (s TripStatus) Concluded() bool {
	return s == TripCompleted || s == TripArchived
}

// CheckpointStatus is the lifecycle state of a checkpoint.
type CheckpointStatus string

const (
	CheckpointDraft    CheckpointStatus = "DRAFT"
	CheckpointActive   CheckpointStatus = "ACTIVE"
	CheckpointClosed   CheckpointStatus = "CLOSED"
	CheckpointArchived CheckpointStatus = "ARCHIVED"
)

// NormalizeTokenUID trims and upper-cases a token identifier.
func NormalizeTokenUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

// Token is a registered physical credential (bracelet, printed QR).
type Token struct {
	UID            string         `json:"token_uid"`
	Kind           AssignmentKind `json:"token_type"`
	Status         TokenStatus    `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAssignedAt *time.Time     `json:"last_assigned_at,omitempty"`
}

// Assignment links a token to a student for one trip.
type Assignment struct {
	ID         int64          `json:"id"`
	TokenUID   string         `json:"token_uid"`
	StudentID  uuid.UUID      `json:"student_id"`
	TripID     uuid.UUID      `json:"trip_id"`
	Kind       AssignmentKind `json:"assignment_type"`
	AssignedAt time.Time      `json:"assigned_at"`
	ReleasedAt *time.Time     `json:"released_at"`
}

// Active reports whether the assignment has not been released.
func (a Assignment) Active() bool { return a.ReleasedAt == nil }

// Attendance is one persisted presence scan. Rows are append-only.
type Attendance struct {
	ID            uuid.UUID  `json:"id"`
	ClientUUID    *uuid.UUID `json:"client_uuid,omitempty"`
	TripID        uuid.UUID  `json:"trip_id"`
	CheckpointID  uuid.UUID  `json:"checkpoint_id"`
	StudentID     uuid.UUID  `json:"student_id"`
	AssignmentID  *int64     `json:"assignment_id,omitempty"`
	ScannedAt     time.Time  `json:"scanned_at"`
	ScanMethod    ScanMethod `json:"scan_method"`
	ScanSequence  int        `json:"scan_sequence"`
	IsManual      bool       `json:"is_manual"`
	Justification *string    `json:"justification,omitempty"`
	Comment       *string    `json:"comment,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Trip is a school outing.
type Trip struct {
	ID          uuid.UUID  `json:"id"`
	Destination string     `json:"destination"`
	Date        time.Time  `json:"date"`
	Description *string    `json:"description"`
	Status      TripStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Checkpoint is a roll-call point created on the field during a trip.
type Checkpoint struct {
	ID            uuid.UUID        `json:"id"`
	TripID        uuid.UUID        `json:"trip_id"`
	Name          string           `json:"name"`
	Description   *string          `json:"description"`
	SequenceOrder int              `json:"sequence_order"`
	Status        CheckpointStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
}

// Student is a pupil that can take part in trips.
type Student struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Class groups students; trips enrol whole classes.
type Class struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Year      *string   `json:"year"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncLog records one sync batch received from a device.
type SyncLog struct {
	DeviceID   string    `json:"device_id"`
	Received   int       `json:"received"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	SyncedAt   time.Time `json:"synced_at"`
}
