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

// errAccessDenied never says why a code was rejected.
func errAccessDenied() *DomainError {
	return domainError(http.StatusUnauthorized, "ACCESS_DENIED", "Invalid access code", nil)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errOperationClosed(operationID string) *DomainError {
	return domainError(http.StatusConflict, "OPERATION_CLOSED", "Operation is closed", map[string]any{"operationId": operationID})
}
