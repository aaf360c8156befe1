package utils

import (
	"context"
	"errors"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrTaskValidation   = errors.New("task validation error")         // Malformed submission, rejected before enqueue
	ErrRetriesExhausted = errors.New("task failed after all retries") // Wraps the last underlying error
	ErrNoProxyAvailable = errors.New("no eligible proxy available")   // Pool empty or fully blacklisted
	ErrProxyUnknown     = errors.New("proxy not registered in pool")
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrDatabase         = errors.New("database error") // Wraps badger errors
	ErrConfigValidation = errors.New("configuration validation error")
	ErrCaptchaUnsolved  = errors.New("captcha solving failed")
	ErrSchedulerStopped = errors.New("scheduler is not accepting tasks")
	ErrTaskNotFound     = errors.New("task not found")
)

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Check against sentinel errors first
	switch {
	case errors.Is(err, ErrTaskValidation):
		return "Task_Validation"
	case errors.Is(err, ErrRetriesExhausted):
		// The last underlying fetch error rides along in the message
		errMsg := strings.ToLower(err.Error())
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetriesExhausted_Timeout"
		}
		if strings.Contains(errMsg, "blocked") {
			return "RetriesExhausted_Blocked"
		}
		if strings.Contains(errMsg, "captcha") {
			return "RetriesExhausted_Captcha"
		}
		return "RetriesExhausted_Other"
	case errors.Is(err, ErrNoProxyAvailable):
		return "Proxy_NoneAvailable"
	case errors.Is(err, ErrProxyUnknown):
		return "Proxy_Unknown"
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrCaptchaUnsolved):
		return "Captcha_Unsolved"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrSchedulerStopped):
		return "Scheduler_Stopped"
	case errors.Is(err, ErrTaskNotFound):
		return "Task_NotFound"
	}

	// --- Fallback checks for common underlying error types/strings ---

	// Context errors
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	// Network errors (if not wrapped by custom sentinels)
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
	if strings.Contains(lowerErrMsg, "broken pipe") {
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
