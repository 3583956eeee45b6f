package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown  ErrorCode = 1
	ErrCodeInternal ErrorCode = 2
	ErrCodePanic    ErrorCode = 3

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeMissingColumns       ErrorCode = 102
	ErrCodeInsufficientData     ErrorCode = 106
	ErrCodeInvalidSeries        ErrorCode = 107

	// Data errors (200-299)
	ErrCodeDataNotFound ErrorCode = 200
	ErrCodeQueryFailed  ErrorCode = 202
	ErrCodeStoreFailed  ErrorCode = 203

	// Strategy errors (400-499)
	ErrCodeUnknownStrategy ErrorCode = 403
	ErrCodeInvalidParams   ErrorCode = 404

	// Backtest errors (600-699)
	ErrCodeSimulationFailed ErrorCode = 600

	// External errors (700-799)
	ErrCodeSentimentUnavailable ErrorCode = 700
	ErrCodeMarketDataFailed     ErrorCode = 701
)
