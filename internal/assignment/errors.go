package assignment

import (
	"errors"
	"fmt"

	"schooltrack/internal/model"
)

// Code identifies a business-rule violation of the assignment state machine.
type Code string

const (
	CodeNotParticipant         Code = "NOT_PARTICIPANT"
	CodeTokenAlreadyAssigned   Code = "TOKEN_ALREADY_ASSIGNED"
	CodeStudentAlreadyAssigned Code = "STUDENT_ALREADY_ASSIGNED"
)

// Error is a typed business-rule violation. Compare with errors.Is against
// the Err* sentinels; only the code is significant for matching.
type Error struct {
	Code     Code
	TokenUID string
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeNotParticipant:
		return "student is not a participant of this trip"
	case CodeTokenAlreadyAssigned:
		return fmt.Sprintf("token %q is already assigned on this trip", e.TokenUID)
	case CodeStudentAlreadyAssigned:
		return "student already holds an active token on this trip"
	}
	return string(e.Code)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotParticipant         = &Error{Code: CodeNotParticipant}
	ErrTokenAlreadyAssigned   = &Error{Code: CodeTokenAlreadyAssigned}
	ErrStudentAlreadyAssigned = &Error{Code: CodeStudentAlreadyAssigned}
)

// Input validation errors. The HTTP layer rejects these before the service
// runs; the service checks them again for non-HTTP callers.
var (
	ErrInvalidRequest        = errors.New("invalid assignment request")
	ErrJustificationRequired = fmt.Errorf("%w: justification is required for a reassignment", ErrInvalidRequest)
	ErrDigitalStock          = fmt.Errorf("%w: QR_DIGITAL tokens are virtual and cannot be registered as stock", ErrInvalidRequest)
)

// fromUniqueViolation maps a storage constraint violation onto the conflict
// the application-level pre-check would have raised.
func fromUniqueViolation(err error, tokenUID string) error {
	uv, ok := model.AsUniqueViolation(err)
	if !ok {
		return err
	}
	switch uv.Constraint {
	case model.ConstraintActiveToken:
		return &Error{Code: CodeTokenAlreadyAssigned, TokenUID: tokenUID}
	case model.ConstraintActiveStudent:
		return &Error{Code: CodeStudentAlreadyAssigned, TokenUID: tokenUID}
	}
	return err
}
