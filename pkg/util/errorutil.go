package util

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewIllegalTransition reports a state change not permitted by the
// transition table. The incident is left unchanged.
func NewIllegalTransition(from, event string) error {
	return NewDomainError("ILLEGAL_TRANSITION", "transition not permitted from current state", http.StatusConflict, map[string]any{
		"from":  from,
		"event": event,
	})
}

// NewQueueEmpty reports that a queue group has no eligible incident.
func NewQueueEmpty(groupID string) error {
	return NewDomainError("QUEUE_EMPTY", "no eligible incident in queue", http.StatusConflict, map[string]any{
		"group_id": groupID,
	})
}

// NewAssignmentLimitReached reports a technician at their concurrency cap.
func NewAssignmentLimitReached(technicianID string, limit int) error {
	return NewDomainError("ASSIGNMENT_LIMIT_REACHED", "technician at concurrent assignment limit", http.StatusConflict, map[string]any{
		"technician_id": technicianID,
		"limit":         limit,
	})
}

// NewAlreadyVerified reports a second verification attempt on an incident.
func NewAlreadyVerified(incidentID string) error {
	return NewDomainError("ALREADY_VERIFIED", "recurrence already adjudicated for incident", http.StatusConflict, map[string]any{
		"incident_id": incidentID,
	})
}

// NewNotAssigned reports an operation requiring a held assignment.
func NewNotAssigned(incidentID string) error {
	return NewDomainError("NOT_ASSIGNED", "incident is not assigned to the given technician", http.StatusConflict, map[string]any{
		"incident_id": incidentID,
	})
}

// NewIncidentTerminal reports a mutation attempted on a closed incident.
func NewIncidentTerminal(incidentID, state string) error {
	return NewDomainError("INCIDENT_TERMINAL", "incident is in a terminal state", http.StatusConflict, map[string]any{
		"incident_id": incidentID,
		"state":       state,
	})
}

// NewCommentsRequired reports a rejection missing mandatory comments.
func NewCommentsRequired() error {
	return NewDomainError("COMMENTS_REQUIRED", "comments are required when rejecting", http.StatusBadRequest, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
