package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"quill/api/internal/store"
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

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errInvariant(message string, details any) *DomainError {
	return domainError(http.StatusInternalServerError, "INVARIANT_VIOLATION", message, details)
}

// translateStoreError maps store sentinels onto caller-facing typed errors.
// Anything unrecognized passes through untouched for the 500 path.
func translateStoreError(err error, notFoundMessage string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return errNotFound(notFoundMessage)
	case errors.Is(err, store.ErrParentNotFound):
		return errNotFound("parent document not found")
	case errors.Is(err, store.ErrSelfParent):
		return errValidation("a document cannot be its own parent", nil)
	case errors.Is(err, store.ErrCircularReference):
		return domainError(http.StatusBadRequest, "CIRCULAR_REFERENCE", "move would make the document its own ancestor", nil)
	case errors.Is(err, store.ErrInvalidPosition):
		return errValidation("invalid position", nil)
	case errors.Is(err, store.ErrSiblingSetMismatch):
		return errValidation("ordered ids must exactly match the current children", nil)
	case errors.Is(err, store.ErrConflict):
		return errConflict("concurrent update detected, retry the operation")
	case errors.Is(err, store.ErrStructuralInvariant):
		return errInvariant("document tree is corrupted", nil)
	default:
		return err
	}
}
