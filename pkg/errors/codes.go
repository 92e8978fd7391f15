package errors

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
)

// Annotation pipeline error codes.
const (
	// ErrCodeDictionaryUnavailable: a category store is missing, corrupt or
	// timed out. Fatal for that category only.
	ErrCodeDictionaryUnavailable ErrorCode = "ANNOT_001"
	// ErrCodeOrganismResolutionTimeout: a resolution tier exceeded its
	// deadline. The affected matches stay unresolved.
	ErrCodeOrganismResolutionTimeout ErrorCode = "ANNOT_002"
	// ErrCodeMalformedLayout aborts the whole document pass.
	ErrCodeMalformedLayout ErrorCode = "ANNOT_003"
	// ErrCodeConflictingManualAnnotation: two inclusions claim one span with
	// different entity ids. Last one wins.
	ErrCodeConflictingManualAnnotation ErrorCode = "ANNOT_004"
	ErrCodeOrganismResolutionFailed    ErrorCode = "ANNOT_005"
	ErrCodeUnlocatedManualAnnotation   ErrorCode = "ANNOT_006"
	ErrCodeStyleUnavailable            ErrorCode = "ANNOT_007"
	ErrCodeInvalidManualAnnotation     ErrorCode = "ANNOT_008"
)

// Short aliases used at call sites.
const (
	CodeOK           = ErrorCode("OK")
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeNotFound     = ErrCodeNotFound
	CodeConflict     = ErrCodeConflict

	CodeDictionaryUnavailable       = ErrCodeDictionaryUnavailable
	CodeOrganismResolutionTimeout   = ErrCodeOrganismResolutionTimeout
	CodeMalformedLayout             = ErrCodeMalformedLayout
	CodeConflictingManualAnnotation = ErrCodeConflictingManualAnnotation
	CodeOrganismResolutionFailed    = ErrCodeOrganismResolutionFailed
	CodeUnlocatedManualAnnotation   = ErrCodeUnlocatedManualAnnotation
	CodeStyleUnavailable            = ErrCodeStyleUnavailable
	CodeInvalidManualAnnotation     = ErrCodeInvalidManualAnnotation
)

// nonFatal lists the codes that degrade a document pass instead of aborting it.
var nonFatal = map[ErrorCode]bool{
	ErrCodeDictionaryUnavailable:       true,
	ErrCodeOrganismResolutionTimeout:   true,
	ErrCodeConflictingManualAnnotation: true,
	ErrCodeOrganismResolutionFailed:    true,
	ErrCodeUnlocatedManualAnnotation:   true,
	ErrCodeStyleUnavailable:            true,
}

// NonFatal reports whether the code marks a degradation rather than a failure.
func (c ErrorCode) NonFatal() bool {
	return nonFatal[c]
}

// ErrorCodeMessage maps codes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:                    "internal error",
	ErrCodeBadRequest:                  "bad request",
	ErrCodeNotFound:                    "resource not found",
	ErrCodeConflict:                    "resource conflict",
	ErrCodeServiceUnavailable:          "service unavailable",
	ErrCodeTimeout:                     "operation timed out",
	ErrCodeValidation:                  "validation failed",
	ErrCodeSerialization:               "serialization failed",
	ErrCodeDatabaseError:               "database error",
	ErrCodeCacheError:                  "cache error",
	ErrCodeExternalService:             "external service error",
	ErrCodeDictionaryUnavailable:       "dictionary unavailable",
	ErrCodeOrganismResolutionTimeout:   "organism resolution timed out",
	ErrCodeMalformedLayout:             "malformed layout input",
	ErrCodeConflictingManualAnnotation: "conflicting manual annotation",
	ErrCodeOrganismResolutionFailed:    "organism resolution failed",
	ErrCodeUnlocatedManualAnnotation:   "manual annotation could not be located",
	ErrCodeStyleUnavailable:            "annotation style unavailable",
	ErrCodeInvalidManualAnnotation:     "invalid manual annotation",
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}
