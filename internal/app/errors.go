package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"pagespace/internal/auth"
	"pagespace/internal/authpw"
	"pagespace/internal/export"
	"pagespace/internal/history"
	"pagespace/internal/mcpbridge"
	"pagespace/internal/pagetree"
	"pagespace/internal/ratelimit"
	"pagespace/internal/session"
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

var (
	errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errNotFound  = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
)

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func unavailable(code, message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, code, message, nil)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var toolErr *mcpbridge.ToolError
	if errors.As(err, &toolErr) {
		return http.StatusUnprocessableEntity, "TOOL_ERROR", toolErr.Message, map[string]any{"tool": toolErr.Tool}
	}

	switch {
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pagetree.ErrNotFound), errors.Is(err, history.ErrNoHistory),
		errors.Is(err, history.ErrRevisionNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil

	case errors.Is(err, pagetree.ErrCycle):
		return http.StatusConflict, "CYCLE", err.Error(), nil
	case errors.Is(err, pagetree.ErrCrossDrive):
		return http.StatusUnprocessableEntity, "CROSS_DRIVE_PARENT", err.Error(), nil
	case errors.Is(err, pagetree.ErrInvalidParent):
		return http.StatusUnprocessableEntity, "INVALID_PARENT", err.Error(), nil
	case errors.Is(err, pagetree.ErrEmptySelection):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil

	case errors.Is(err, mcpbridge.ErrNoClient):
		return http.StatusConflict, "MCP_NOT_CONNECTED", "No desktop client connected", nil
	case errors.Is(err, mcpbridge.ErrTimeout):
		return http.StatusGatewayTimeout, "MCP_TIMEOUT", "Tool call timed out", nil
	case errors.Is(err, mcpbridge.ErrClientGone):
		return http.StatusBadGateway, "MCP_DISCONNECTED", "Desktop client disconnected", nil

	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrEmailNotVerified):
		return http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil
	case errors.Is(err, authpw.ErrInvalidToken):
		return http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil

	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "UNSUPPORTED_FORMAT", "Format must be pdf or html", nil
	case errors.Is(err, export.ErrNotExportable):
		return http.StatusUnprocessableEntity, "NOT_EXPORTABLE", err.Error(), nil
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
