// Package errors provides structured error handling with stable machine codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidation             Code = "VALIDATION_ERROR"
	CodeSessionEmptyFellowID   Code = "SESSION_EMPTY_FELLOW_ID"
	CodeSessionEmptyTranscript Code = "SESSION_EMPTY_TRANSCRIPT"
	CodeSessionEmptyConcept    Code = "SESSION_EMPTY_CONCEPT"
	CodeSessionInvalidDate     Code = "SESSION_INVALID_DATE"
	CodeReviewInvalidDecision  Code = "REVIEW_INVALID_DECISION"
	CodeReviewNotesRequired    Code = "REVIEW_NOTES_REQUIRED"
	CodeUserEmptyName          Code = "USER_EMPTY_NAME"
	CodeUserEmptyEmail         Code = "USER_EMPTY_EMAIL"
	CodeUserInvalidRole        Code = "USER_INVALID_ROLE"
	CodeAssignmentInvalidPair  Code = "ASSIGNMENT_INVALID_PAIR"

	// Lifecycle errors
	CodeSessionInvalidStatusTransition Code = "SESSION_INVALID_STATUS_TRANSITION"
	CodeConcurrentModification         Code = "CONCURRENT_MODIFICATION"

	// Authorization errors
	CodeUserNotSupervisor Code = "USER_NOT_SUPERVISOR"
	CodeUserNotFellow     Code = "USER_NOT_FELLOW"

	// Analysis errors
	CodeAnalysisMissing             Code = "ANALYSIS_MISSING"
	CodeAnalysisFormatInvalid       Code = "ANALYSIS_FORMAT_INVALID"
	CodeAnalysisProviderUnavailable Code = "ANALYSIS_PROVIDER_UNAVAILABLE"

	// Storage errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeStatusCorrupt  Code = "SESSION_STATUS_CORRUPT"
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeValidation,
		CodeSessionEmptyFellowID,
		CodeSessionEmptyTranscript,
		CodeSessionEmptyConcept,
		CodeSessionInvalidDate,
		CodeReviewInvalidDecision,
		CodeReviewNotesRequired,
		CodeUserEmptyName,
		CodeUserEmptyEmail,
		CodeUserInvalidRole,
		CodeAssignmentInvalidPair:
		return http.StatusBadRequest

	// Conflict - state doesn't allow the operation
	case CodeSessionInvalidStatusTransition,
		CodeConcurrentModification,
		CodeAnalysisMissing,
		CodeAlreadyExists:
		return http.StatusConflict

	// Forbidden - role mismatch
	case CodeUserNotSupervisor,
		CodeUserNotFellow:
		return http.StatusForbidden

	// Bad gateway - the analysis provider failed or misbehaved
	case CodeAnalysisFormatInvalid,
		CodeAnalysisProviderUnavailable:
		return http.StatusBadGateway

	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
