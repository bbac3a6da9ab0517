package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// Names of the storage-level uniqueness constraints. Both storage backends
// report violations using these names.
const (
	ConstraintActiveToken   = "idx_assignments_active_token_trip"
	ConstraintActiveStudent = "idx_assignments_active_student_trip"
	ConstraintClientUUID    = "attendances_client_uuid_key"
	ConstraintTokenUID      = "tokens_token_uid_key"
	ConstraintClassName     = "classes_name_key"

	ConstraintAssignmentTrip       = "assignments_trip_id_fkey"
	ConstraintAssignmentStudent    = "assignments_student_id_fkey"
	ConstraintAttendanceTrip       = "attendances_trip_id_fkey"
	ConstraintAttendanceCheckpoint = "attendances_checkpoint_id_fkey"
	ConstraintAttendanceStudent    = "attendances_student_id_fkey"
	ConstraintAttendanceAssignment = "attendances_assignment_id_fkey"
)

// UniqueViolation is raised by storage when an insert or update breaks a
// uniqueness constraint.
type UniqueViolation struct {
	Constraint string
	Err        error
}

func (e *UniqueViolation) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unique violation on %s: %v", e.Constraint, e.Err)
	}
	return "unique violation on " + e.Constraint
}

func (e *UniqueViolation) Unwrap() error { return e.Err }

// AsUniqueViolation returns the violation wrapped in err, if any.
func AsUniqueViolation(err error) (*UniqueViolation, bool) {
	var uv *UniqueViolation
	if errors.As(err, &uv) {
		return uv, true
	}
	return nil, false
}

// MissingReference is raised by storage when a write names a trip, student,
// checkpoint or assignment that does not exist. It matches ErrNotFound.
type MissingReference struct {
	Constraint string
	Err        error
}

func (e *MissingReference) Error() string {
	return "referenced row does not exist (" + e.Constraint + ")"
}

func (e *MissingReference) Is(target error) bool { return target == ErrNotFound }

func (e *MissingReference) Unwrap() error { return e.Err }
