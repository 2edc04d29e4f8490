package app

import "fmt"

// DomainError is a service-level failure with a stable machine code.
// Status is the HTTP status the handler layer should respond with,
// Code is the constant clients switch on (VALIDATION_ERROR, LEGAL_HOLD,
// ALREADY_DECIDED, ...), Details carries optional structured context.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
