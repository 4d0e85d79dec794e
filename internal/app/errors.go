package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeNotFound       = "NOT_FOUND"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeConflict       = "CONFLICT"
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidBody    = "INVALID_BODY"
	CodeCreationFailed = "CREATION_FAILED"
	CodeUpdateFailed   = "UPDATE_FAILED"
	CodeDeletionFailed = "DELETION_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeStorageFailed  = "STORAGE_FAILED"
	CodeServerError    = "SERVER_ERROR"
)

const msgNoPermission = "You do not have permission to perform this action"

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func unauthorized(message string) *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func forbidden(message string) *DomainError {
	if message == "" {
		message = msgNoPermission
	}
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, message, nil)
}

func validation(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func invalidBody(message string) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidBody, message, nil)
}

func creationFailed(message string) *DomainError {
	return domainError(http.StatusInternalServerError, CodeCreationFailed, message, nil)
}

func updateFailed(message string) *DomainError {
	return domainError(http.StatusInternalServerError, CodeUpdateFailed, message, nil)
}

func deletionFailed(message string) *DomainError {
	return domainError(http.StatusInternalServerError, CodeDeletionFailed, message, nil)
}

func uploadFailed(message string) *DomainError {
	return domainError(http.StatusInternalServerError, CodeUploadFailed, message, nil)
}

func storageFailed(message string) *DomainError {
	return domainError(http.StatusInternalServerError, CodeStorageFailed, message, nil)
}

func serverError(message string) *DomainError {
	return domainError(http.StatusInternalServerError, CodeServerError, message, nil)
}
