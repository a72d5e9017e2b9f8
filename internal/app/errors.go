package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"redline/internal/canonical"
	"redline/internal/diff"
	"redline/internal/engine"
	"redline/internal/report"
	"redline/internal/versionstore"
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, versionstore.ErrInvalidSlot):
		return http.StatusBadRequest, "INVALID_SLOT", "Slot names use letters, digits, '.', '_' or '-' (max 64)", nil
	case errors.Is(err, versionstore.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "No snapshot recorded for this slot", nil
	case errors.Is(err, canonical.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_FORMAT", err.Error(), nil
	case errors.Is(err, canonical.ErrConverterUnavailable):
		return http.StatusServiceUnavailable, "CONVERTER_UNAVAILABLE", "Document converter unavailable", nil
	case errors.Is(err, canonical.ErrConversionFailure):
		return http.StatusUnprocessableEntity, "CONVERSION_FAILED", err.Error(), nil
	case errors.Is(err, diff.ErrEncoding):
		return http.StatusUnprocessableEntity, "ENCODING_ERROR", err.Error(), nil
	case errors.Is(err, diff.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "DIFF_TOO_LARGE", err.Error(), nil
	case errors.Is(err, versionstore.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Version storage unavailable", nil
	case errors.Is(err, report.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export requires chromium", nil
	case errors.Is(err, engine.ErrReport):
		return http.StatusInternalServerError, "REPORT_FAILED", "Snapshot recorded but the report could not be written", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
