package apperrors

import "errors"

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError        ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError      ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrorCodeUnauthorized         ErrorCode = "UNAUTHORIZED"
	ErrorCodeDeviceNotFound       ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeDeviceOffline        ErrorCode = "DEVICE_OFFLINE"
	ErrorCodeServiceNotAvailable  ErrorCode = "SERVICE_NOT_AVAILABLE"
	ErrorCodeActionNotAvailable   ErrorCode = "ACTION_NOT_AVAILABLE"
	ErrorCodeVariableNotAvailable ErrorCode = "STATE_VARIABLE_NOT_AVAILABLE"
	ErrorCodeUPnPFault            ErrorCode = "UPNP_FAULT"
	ErrorCodeUPnPUnreachable      ErrorCode = "UPNP_UNREACHABLE"
	ErrorCodeUPnPTimeout          ErrorCode = "UPNP_TIMEOUT"
	ErrorCodeUPnPBadResponse      ErrorCode = "UPNP_BAD_RESPONSE"
	ErrorCodeAuthTokenExpired     ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid     ErrorCode = "AUTH_TOKEN_INVALID"
)

// ErrorType categorizes errors for clients.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing required fields, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeAuthError indicates authentication or authorization failure.
	ErrorTypeAuthError ErrorType = "authentication_error"
	// ErrorTypeDeviceError indicates the UPnP device failed or misbehaved.
	ErrorTypeDeviceError ErrorType = "device_error"
)

// ErrorBody is the serialized error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type ErrorBody struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// Body returns the error in response format.
func (err *AppError) Body() ErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 401 || err.StatusCode == 403:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	case err.StatusCode == 502 || err.StatusCode == 504:
		errType = ErrorTypeDeviceError
	}

	return ErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details)
}

func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	errCode := ErrorCodeUnauthorized
	if len(code) > 0 {
		errCode = code[0]
	}
	return NewAppError(errCode, message, 401, nil)
}

func NewNotFoundResource(resource, id string) *AppError {
	message := resource + " not found"
	details := map[string]any{
		"resource": resource,
	}
	if id != "" {
		message = resource + " not found: " + id
		details["id"] = id
	}
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

// NewDeviceError reports a device that answered badly or not at all (502).
func NewDeviceError(code ErrorCode, message string, details map[string]any) *AppError {
	return NewAppError(code, message, 502, details)
}

// NewDeviceTimeoutError reports a device that did not answer in time (504).
func NewDeviceTimeoutError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeUPnPTimeout, message, 504, details)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
