// Package errors defines the caller-visible error taxonomy of the service
// layer. Every error aborts the surrounding transaction; none are retried.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Class groups error codes by cause.
type Class string

const (
	ClassAuthorization Class = "authorization"
	ClassStateConflict Class = "state_conflict"
	ClassValidation    Class = "validation"
	ClassResource      Class = "resource"
	ClassInternal      Class = "internal"
)

// Code identifies a specific failure.
type Code string

const (
	CodeNotAuthorized             Code = "NotAuthorized"
	CodeNotOwner                  Code = "NotOwner"
	CodeInvalidCapability         Code = "InvalidCapability"
	CodeNotActive                 Code = "NotActive"
	CodeAlreadyRegistered         Code = "AlreadyRegistered"
	CodeDuplicateFingerprint      Code = "DuplicateFingerprint"
	CodeAlreadyVoted              Code = "AlreadyVoted"
	CodeAlreadySubmitted          Code = "AlreadySubmitted"
	CodeAlreadyFinalized          Code = "AlreadyFinalized"
	CodeAlreadyClaimed            Code = "AlreadyClaimed"
	CodeAlreadyApplied            Code = "AlreadyApplied"
	CodeAlreadyRevoked            Code = "AlreadyRevoked"
	CodeVotingClosed              Code = "VotingClosed"
	CodeVotingOpen                Code = "VotingOpen"
	CodeConsensusAlreadyFinalized Code = "ConsensusAlreadyFinalized"
	CodeConsensusNotReached       Code = "ConsensusNotReached"
	CodeNotTransferable           Code = "NotTransferable"
	CodeConflict                  Code = "Conflict"
	CodeInvalidFingerprint        Code = "InvalidFingerprint"
	CodeInvalidConfidence         Code = "InvalidConfidence"
	CodeInvalidAmount             Code = "InvalidAmount"
	CodeInvalidRole               Code = "InvalidRole"
	CodeInvalidScore              Code = "InvalidScore"
	CodeInvalidTimeWindow         Code = "InvalidTimeWindow"
	CodeInvalidArgument           Code = "InvalidArgument"
	CodeInsufficientStake         Code = "InsufficientStake"
	CodeInsufficientSubmissions   Code = "InsufficientSubmissions"
	CodeInsufficientRewardPool    Code = "InsufficientRewardPool"
	CodeAccessDenied              Code = "AccessDenied"
	CodePolicyExpired             Code = "PolicyExpired"
	CodeNotFound                  Code = "NotFound"
	CodeUnauthenticated           Code = "Unauthenticated"
	CodeRateLimited               Code = "RateLimited"
	CodeInternal                  Code = "Internal"
)

// ServiceError is a classified, caller-visible error.
type ServiceError struct {
	Code       Code           `json:"code"`
	Class      Class          `json:"class"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches on code so sentinels work with errors.Is after WithDetails or Wrap.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy carrying an extra detail entry.
func (e *ServiceError) WithDetails(key string, value any) *ServiceError {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithMessage returns a copy with a more specific message.
func (e *ServiceError) WithMessage(format string, args ...any) *ServiceError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy that wraps a cause.
func (e *ServiceError) Wrap(err error) *ServiceError {
	cp := *e
	cp.Err = err
	return &cp
}

func newError(code Code, class Class, status int, msg string) *ServiceError {
	return &ServiceError{Code: code, Class: class, HTTPStatus: status, Message: msg}
}

// Sentinels. Compare with errors.Is.
var (
	ErrNotAuthorized     = newError(CodeNotAuthorized, ClassAuthorization, http.StatusForbidden, "caller lacks the required identity or role")
	ErrNotOwner          = newError(CodeNotOwner, ClassAuthorization, http.StatusForbidden, "caller is not the owner")
	ErrInvalidCapability = newError(CodeInvalidCapability, ClassAuthorization, http.StatusForbidden, "capability is invalid, expired or already used")
	ErrUnauthenticated   = newError(CodeUnauthenticated, ClassAuthorization, http.StatusUnauthorized, "authentication required")

	ErrNotActive                 = newError(CodeNotActive, ClassStateConflict, http.StatusConflict, "participant is not active")
	ErrAlreadyRegistered         = newError(CodeAlreadyRegistered, ClassStateConflict, http.StatusConflict, "already registered")
	ErrDuplicateFingerprint      = newError(CodeDuplicateFingerprint, ClassStateConflict, http.StatusConflict, "fingerprint already registered")
	ErrAlreadyVoted              = newError(CodeAlreadyVoted, ClassStateConflict, http.StatusConflict, "verifier already voted on this task")
	ErrAlreadySubmitted          = newError(CodeAlreadySubmitted, ClassStateConflict, http.StatusConflict, "oracle already submitted for this result")
	ErrAlreadyFinalized          = newError(CodeAlreadyFinalized, ClassStateConflict, http.StatusConflict, "task already finalized")
	ErrAlreadyClaimed            = newError(CodeAlreadyClaimed, ClassStateConflict, http.StatusConflict, "reward already claimed")
	ErrAlreadyApplied            = newError(CodeAlreadyApplied, ClassStateConflict, http.StatusConflict, "reputation update already applied")
	ErrAlreadyRevoked            = newError(CodeAlreadyRevoked, ClassStateConflict, http.StatusConflict, "grant already revoked")
	ErrVotingClosed              = newError(CodeVotingClosed, ClassStateConflict, http.StatusConflict, "voting is closed")
	ErrVotingOpen                = newError(CodeVotingOpen, ClassStateConflict, http.StatusConflict, "voting period has not ended")
	ErrConsensusAlreadyFinalized = newError(CodeConsensusAlreadyFinalized, ClassStateConflict, http.StatusConflict, "detection result already finalized")
	ErrConsensusNotReached       = newError(CodeConsensusNotReached, ClassStateConflict, http.StatusConflict, "detection result not finalized")
	ErrNotTransferable           = newError(CodeNotTransferable, ClassStateConflict, http.StatusConflict, "content is not transferable")
	ErrConflict                  = newError(CodeConflict, ClassStateConflict, http.StatusConflict, "concurrent modification")

	ErrInvalidFingerprint = newError(CodeInvalidFingerprint, ClassValidation, http.StatusBadRequest, "invalid fingerprint")
	ErrInvalidConfidence  = newError(CodeInvalidConfidence, ClassValidation, http.StatusBadRequest, "confidence must be within [0,100]")
	ErrInvalidAmount      = newError(CodeInvalidAmount, ClassValidation, http.StatusBadRequest, "amount must be positive")
	ErrInvalidRole        = newError(CodeInvalidRole, ClassValidation, http.StatusBadRequest, "invalid role")
	ErrInvalidScore       = newError(CodeInvalidScore, ClassValidation, http.StatusBadRequest, "score must be within [0,100]")
	ErrInvalidTimeWindow  = newError(CodeInvalidTimeWindow, ClassValidation, http.StatusBadRequest, "end time must be zero or after start time")
	ErrInvalidArgument    = newError(CodeInvalidArgument, ClassValidation, http.StatusBadRequest, "invalid argument")

	ErrInsufficientStake       = newError(CodeInsufficientStake, ClassResource, http.StatusUnprocessableEntity, "insufficient stake")
	ErrInsufficientSubmissions = newError(CodeInsufficientSubmissions, ClassResource, http.StatusUnprocessableEntity, "not enough submissions for consensus")
	ErrInsufficientRewardPool  = newError(CodeInsufficientRewardPool, ClassResource, http.StatusUnprocessableEntity, "reward pool exhausted")
	ErrAccessDenied            = newError(CodeAccessDenied, ClassResource, http.StatusForbidden, "access denied")
	ErrPolicyExpired           = newError(CodePolicyExpired, ClassResource, http.StatusForbidden, "access window has ended")
	ErrNotFound                = newError(CodeNotFound, ClassResource, http.StatusNotFound, "not found")
	ErrRateLimited             = newError(CodeRateLimited, ClassResource, http.StatusTooManyRequests, "rate limit exceeded")

	ErrInternal = newError(CodeInternal, ClassInternal, http.StatusInternalServerError, "internal error")
)

// NotFound builds a not-found error naming the entity.
func NotFound(kind, id string) *ServiceError {
	return ErrNotFound.WithMessage("%s %s not found", kind, id).WithDetails("id", id)
}

// InvalidArgument builds a validation error naming the field.
func InvalidArgument(field, reason string) *ServiceError {
	return ErrInvalidArgument.WithMessage("%s: %s", field, reason).WithDetails("field", field)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return ErrInternal.WithMessage("%s", message).Wrap(err)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// ClassOf reports the class of err, or ClassInternal for unclassified errors.
func ClassOf(err error) Class {
	if se := GetServiceError(err); se != nil {
		return se.Class
	}
	return ClassInternal
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
