package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/learnloop/chatrelay/internal/logger"
	"github.com/learnloop/chatrelay/internal/metrics"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// ErrorResponse is the JSON body of every failed HTTP request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorMiddleware renders AppErrors as JSON responses and recovers panics.
type ErrorMiddleware struct {
	logger *zap.Logger
}

func NewErrorMiddleware(log *zap.Logger) *ErrorMiddleware {
	if log == nil {
		log = logger.New("http_errors")
	}
	return &ErrorMiddleware{logger: log}
}

// HandlerFunc is an http handler that returns its failure instead of writing it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Wrap adapts fn into an http.Handler that tags requests with an id and
// renders returned errors.
func (em *ErrorMiddleware) Wrap(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		if err := fn(w, r); err != nil {
			em.HandleError(w, r, requestID, err)
		}
	})
}

// HandleError logs err and sends the structured response.
func (em *ErrorMiddleware) HandleError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = InternalError("An internal error occurred", err)
	}
	appErr = appErr.WithRequestID(requestID)

	em.logError(appErr, r)
	metrics.ErrorsCount.WithLabelValues(string(appErr.Type)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusCode(appErr.Type))
	resp := ErrorResponse{Error: ErrorBody{
		Type:      appErr.Type,
		Code:      appErr.Code,
		Message:   userMessage(appErr),
		Timestamp: appErr.Timestamp,
		RequestID: appErr.RequestID,
	}}
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		em.logger.Error("Failed to encode error response", zap.Error(encodeErr))
	}
}

// Recover converts panics in next into critical internal errors.
func (em *ErrorMiddleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err, ok := recovered.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", recovered)
				}
				panicErr := Wrap(err, ErrorTypeInternal, "PANIC_RECOVERED", "An unexpected error occurred").
					WithSeverity(SeverityCritical)
				em.HandleError(w, r, w.Header().Get(requestIDHeader), panicErr)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (em *ErrorMiddleware) logError(err *AppError, r *http.Request) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("error_code", err.Code),
		zap.String("severity", string(err.Severity)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("request_id", err.RequestID),
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}
	if err.StackTrace != "" {
		fields = append(fields, zap.String("stack_trace", err.StackTrace))
	}

	switch err.Severity {
	case SeverityLow:
		em.logger.Info(err.Message, fields...)
	case SeverityMedium:
		em.logger.Warn(err.Message, fields...)
	default:
		em.logger.Error(err.Message, fields...)
	}
}

// StatusCode maps error types to HTTP status codes.
func StatusCode(t ErrorType) int {
	switch t {
	case ErrorTypeValidation, ErrorTypeMalformedEvent:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeNetwork, ErrorTypePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func userMessage(err *AppError) string {
	if err.UserMessage != "" {
		return err.UserMessage
	}
	switch err.Type {
	case ErrorTypeValidation, ErrorTypeMalformedEvent:
		return "The request contains invalid data. Please check your input and try again."
	case ErrorTypeNotFound:
		return "The requested resource was not found."
	case ErrorTypeRateLimit:
		return "Too many requests. Please wait before trying again."
	case ErrorTypeDatabase, ErrorTypePersistence:
		return "A database error occurred. Please try again later."
	default:
		return "An unexpected error occurred. Please try again."
	}
}
