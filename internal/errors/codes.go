package errors

// ErrorCode identifies a class of failure. Codes are stable strings so they
// can be logged and matched across package boundaries.
type ErrorCode string

// Common error codes
const (
	// System errors
	ErrInternal       ErrorCode = "internal_error"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Application errors
	ErrInitApp   ErrorCode = "init_app_failed"
	ErrMainLoop  ErrorCode = "main_loop_failed"
	ErrCloseSink ErrorCode = "close_sink_failed"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:        "Internal error occurred",
	ErrAlreadyRunning:  "Another instance is already running",
	ErrInvalidConfig:   "Invalid configuration",
	ErrBindFlags:       "Failed to bind flags",
	ErrReadConfig:      "Failed to read config file",
	ErrInvalidInterval: "Invalid interval value",
	ErrInvalidLogLevel: "Invalid log level",
	ErrInitFailed:      "Initialization failed",
	ErrShutdownFailed:  "Shutdown failed",
	ErrInitApp:         "Failed to initialize application",
	ErrMainLoop:        "Error in main loop",
	ErrCloseSink:       "Failed to close sink",
	ErrTimeout:         "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
