package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRateLimited       = errors.New("rate limited by provider")         // 429 or provider-equivalent, after the single retry
	ErrClientHTTPError   = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError   = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError    = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrNetwork           = errors.New("network error")                    // Wraps transport failures
	ErrParsing           = errors.New("parsing error")                    // Wraps specific parsing error (JSON, YAML, image)
	ErrDatabase          = errors.New("database error")                   // Wraps badger/postgres errors
	ErrBlobStore         = errors.New("blob store error")                 // Wraps badger/S3 blob errors
	ErrNotFound          = errors.New("record not found")                 // Catalog lookups
	ErrRequestCreation   = errors.New("failed to create HTTP request")    // Includes body marshalling
	ErrResponseBodyRead  = errors.New("failed to read response body")     // Truncated or reset bodies
	ErrSigning           = errors.New("request signing failed")           // Never send the request unsigned
	ErrProviderConfig    = errors.New("provider not configured")          // Missing/malformed credentials
	ErrBudgetExhausted   = errors.New("daily request budget exhausted")   // RequestBudget refused a call
	ErrNoActiveConfig    = errors.New("no active fetch configuration")    // Catastrophic run error
	ErrConfigValidation  = errors.New("configuration validation error")   // Fatal config problems
	ErrPersistence       = errors.New("failed to persist item changes")   // Catalog write failures
	ErrRejectedCandidate = errors.New("candidate image rejected")         // Validator negative outcome
)

// WrapErrorf wraps err with a formatted context message, preserving errors.Is
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrRateLimited):
		return "Provider_RateLimited"
	case errors.Is(err, ErrBudgetExhausted):
		return "Provider_BudgetExhausted"
	case errors.Is(err, ErrProviderConfig):
		return "Config_Provider"
	case errors.Is(err, ErrSigning):
		return "Config_Signing"
	case errors.Is(err, ErrNoActiveConfig):
		return "Config_Missing"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		if strings.Contains(errMsg, " 404 ") {
			return "HTTP_404"
		}
		if strings.Contains(errMsg, " 403 ") {
			return "HTTP_403"
		}
		if strings.Contains(errMsg, " 401 ") {
			return "HTTP_401"
		}
		if strings.Contains(errMsg, " 429 ") {
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRejectedCandidate):
		return "Validation_Rejected"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		if strings.Contains(errMsg, "YAML") {
			return "Content_ParsingYAML"
		}
		if strings.Contains(errMsg, "image") {
			return "Content_ParsingImage"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrNotFound):
		return "Catalog_NotFound"
	case errors.Is(err, ErrPersistence):
		return "Catalog_Persistence"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrBlobStore):
		return "Storage_Blob"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	}

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	// Network errors (wrapped by ErrNetwork or raw)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	if strings.Contains(lowerErrMsg, "timeout") {
		return "Network_TimeoutGeneric"
	}
	if strings.Contains(lowerErrMsg, "connection refused") {
		return "Network_ConnectionRefused"
	}
	if strings.Contains(lowerErrMsg, "no such host") {
		return "Network_DNSLookup"
	}
	if strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate") {
		return "Network_TLS"
	}
	if strings.Contains(lowerErrMsg, "reset by peer") {
		return "Network_ConnectionReset"
	}
	if errors.Is(err, ErrNetwork) {
		return "Network_Other"
	}

	return "Unknown"
}
