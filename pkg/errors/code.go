package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 20000-20999: System & Common errors
// 21000-21999: Execution config errors
// 22000-22999: Mark allocator errors
// 23000-23999: Sandbox runner errors
// 24000-24999: Parser, comparator & scorer errors
// 25000-25999: Gate & run coordinator errors
// 26000-26999: Realtime & transport errors

const (
	// ========== System & Common Errors (20000-20999) ==========

	// Success
	Success ErrorCode = 20000

	// Generic errors (20000-20099)
	InternalServerError ErrorCode = 20001
	InvalidParams       ErrorCode = 20002
	NotFound            ErrorCode = 20003
	Unauthorized        ErrorCode = 20004
	Forbidden           ErrorCode = 20005
	ServiceUnavailable  ErrorCode = 20006
	Timeout             ErrorCode = 20007
	Cancelled           ErrorCode = 20008

	// Storage errors (20100-20199)
	StorageError       ErrorCode = 20100
	StorageNotFound    ErrorCode = 20101
	StorageWriteFailed ErrorCode = 20102
	ArchiveTooLarge    ErrorCode = 20103
	ArchiveUnsafePath  ErrorCode = 20104
	ArchiveUnsupported ErrorCode = 20105

	// Database errors (20200-20299)
	DatabaseError  ErrorCode = 20200
	RecordNotFound ErrorCode = 20201

	// Cache errors (20300-20399)
	CacheError ErrorCode = 20300
	CacheMiss  ErrorCode = 20301

	// Validation errors (20400-20499)
	ValidationFailed   ErrorCode = 20400
	RequiredFieldEmpty ErrorCode = 20401

	// ========== Execution Config Errors (21000-21999) ==========

	ConfigMissing    ErrorCode = 21000
	ConfigMalformed  ErrorCode = 21001
	ConfigOutOfRange ErrorCode = 21002

	// ========== Mark Allocator Errors (22000-22999) ==========

	AllocatorMissing       ErrorCode = 22000
	AllocatorMalformed     ErrorCode = 22001
	AllocatorInvalid       ErrorCode = 22002
	AllocatorRegexOverlong ErrorCode = 22003

	// ========== Sandbox Runner Errors (23000-23999) ==========

	RunnerInfra ErrorCode = 23000

	// ========== Parser, Comparator & Scorer Errors (24000-24999) ==========

	ParserMalformed        ErrorCode = 24000
	ComparatorInvalidRegex ErrorCode = 24100
	ScorerWeightMismatch   ErrorCode = 24200

	// ========== Gate & Coordinator Errors (25000-25999) ==========

	GateInvalidCapacity       ErrorCode = 25000
	CoordinatorAlreadyRunning ErrorCode = 25100
	CoordinatorFailed         ErrorCode = 25101

	// ========== Realtime & Transport Errors (26000-26999) ==========

	AuthDenied            ErrorCode = 26000
	TransportBackpressure ErrorCode = 26100
	FrameMalformed        ErrorCode = 26101
)

// errorMessages maps error codes to default messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Operation timed out",
	Cancelled:           "Operation cancelled",

	StorageError:       "Storage operation failed",
	StorageNotFound:    "Stored file not found",
	StorageWriteFailed: "Failed to write stored file",
	ArchiveTooLarge:    "Archive exceeds the uncompressed size limit",
	ArchiveUnsafePath:  "Archive entry escapes the extraction root",
	ArchiveUnsupported: "Unsupported archive format",

	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found",

	CacheError: "Cache operation failed",
	CacheMiss:  "Cache miss",

	ValidationFailed:   "Validation failed",
	RequiredFieldEmpty: "Required field is empty",

	ConfigMissing:    "Execution config not found",
	ConfigMalformed:  "Execution config is malformed",
	ConfigOutOfRange: "Execution config value out of range",

	AllocatorMissing:       "Mark allocator not found",
	AllocatorMalformed:     "Mark allocator is malformed",
	AllocatorInvalid:       "Mark allocator violates invariants",
	AllocatorRegexOverlong: "Subsection regex list is longer than its value",

	RunnerInfra: "Sandbox infrastructure failure",

	ParserMalformed:        "Task output is malformed",
	ComparatorInvalidRegex: "Comparator regex failed to compile",
	ScorerWeightMismatch:   "Task weights do not sum to one or zero",

	GateInvalidCapacity:       "Gate capacity must be at least one",
	CoordinatorAlreadyRunning: "A run is already active for this attempt",
	CoordinatorFailed:         "Submission run failed",

	AuthDenied:            "Topic subscription denied",
	TransportBackpressure: "Client outbound queue is full",
	FrameMalformed:        "Invalid realtime frame",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == AuthDenied:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == StorageNotFound, c == RecordNotFound,
		c == ConfigMissing, c == AllocatorMissing:
		return 404
	case c == CoordinatorAlreadyRunning:
		return 409
	case c == ServiceUnavailable:
		return 503
	case c >= 20400 && c < 20500:
		return 400
	case c == InvalidParams, c == FrameMalformed,
		c == GateInvalidCapacity, c == AllocatorRegexOverlong:
		return 400
	default:
		return 500
	}
}
