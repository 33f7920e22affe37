package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// MalformedEvent creates an error for an inbound frame that cannot be dispatched.
// The frame is dropped and the connection stays open.
func MalformedEvent(reason string, cause error) *AppError {
	return Wrap(cause, ErrorTypeMalformedEvent, "MALFORMED_EVENT", fmt.Sprintf("Malformed event: %s", reason)).
		WithSeverity(SeverityLow)
}

// PersistenceError creates an error for a message the store failed to save.
// Nothing is pushed for such a message.
func PersistenceError(operation string, cause error) *AppError {
	code := "PERSISTENCE_FAILED"
	if stderrors.Is(cause, context.DeadlineExceeded) {
		code = "PERSISTENCE_TIMEOUT"
	}
	return Wrap(cause, ErrorTypePersistence, code, fmt.Sprintf("Store %s failed", operation)).
		WithSeverity(SeverityHigh)
}

// ConnectionWriteFailure creates an error for a push that could not be
// queued or written to a connection.
func ConnectionWriteFailure(connID string, cause error) *AppError {
	return Wrap(cause, ErrorTypeConnectionWrite, "CONNECTION_WRITE_FAILED", "Push to connection failed").
		WithSeverity(SeverityLow).
		WithDetails(fmt.Sprintf("connection %s: %v", connID, cause))
}

// WebSocketError classifies a transport-level error.
func WebSocketError(operation string, cause error) *AppError {
	var code string
	severity := SeverityMedium

	switch {
	case websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		code, severity = "WS_NORMAL_CLOSURE", SeverityLow
	case websocket.IsCloseError(cause, websocket.CloseAbnormalClosure):
		code = "WS_ABNORMAL_CLOSURE"
	case websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		code = "WS_UNEXPECTED_CLOSURE"
	default:
		code = "WS_ERROR"
	}

	return Wrap(cause, ErrorTypeNetwork, code, fmt.Sprintf("WebSocket %s failed", operation)).
		WithSeverity(severity)
}

// ConnectionLimitError creates an error when connection limits are exceeded.
func ConnectionLimitError(current, max int) *AppError {
	return New(ErrorTypeNetwork, "CONNECTION_LIMIT_EXCEEDED",
		fmt.Sprintf("Connection limit exceeded: %d/%d", current, max)).
		WithUserMessage("Too many active connections. Please try again later.")
}

// ValidationError creates a validation error.
func ValidationError(code, message string) *AppError {
	return New(ErrorTypeValidation, code, message).
		WithSeverity(SeverityLow).
		WithUserMessage(message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithSeverity(SeverityLow).
		WithUserMessage("The requested resource was not found.")
}

// DatabaseError creates a database error.
func DatabaseError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeDatabase, "DATABASE_ERROR", fmt.Sprintf("Database %s failed", operation)).
		WithSeverity(SeverityHigh).
		WithUserMessage("A database error occurred. Please try again later.")
}

// RateLimitError creates a rate limit error.
func RateLimitError(resource string) *AppError {
	return New(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", fmt.Sprintf("Rate limit exceeded for %s", resource)).
		WithUserMessage("Too many requests. Please wait before trying again.")
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return Wrap(cause, ErrorTypeInternal, "INTERNAL_ERROR", message).
		WithSeverity(SeverityHigh).
		WithUserMessage("An internal error occurred. Please try again.")
}
