package models

import "unicode/utf8"

// Queue item statuses. Pending -> Processing -> Succeeded | Failed.
const (
	StatusPending    = "Pending"
	StatusProcessing = "Processing"
	StatusSucceeded  = "Succeeded"
	StatusFailed     = "Failed"
)

const (
	// DefaultPartner is used when neither the request nor the settings name one.
	DefaultPartner = "Zaaer"

	// DefaultBatchSize items pulled per tenant per round.
	DefaultBatchSize = 50

	// MinWorkerIntervalSeconds lower bound for the background worker period.
	MinWorkerIntervalSeconds = 5

	// DefaultWorkerIntervalSeconds default background worker period.
	DefaultWorkerIntervalSeconds = 180

	// MaxErrorLength bounds last_error and failed log messages.
	MaxErrorLength = 2000

	// PayloadPreviewLength bounds payload previews in logs.
	PayloadPreviewLength = 500

	// DefaultPageSize for List.
	DefaultPageSize = 50

	// MaxPageSize for List.
	MaxPageSize = 500

	// MaxExportRows caps the XLSX export.
	MaxExportRows = 10000

	// HotelCodeHeader binds a tenant to an HTTP call.
	HotelCodeHeader = "X-Hotel-Code"
)

// ValidStatus reports whether s is one of the queue statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed:
		return true
	}
	return false
}

// Truncate cuts s to at most n bytes, appending "..." when cut.
// The cut never splits a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:runeBoundary(s, n)] + "..."
}

// TruncateError cuts an error message to at most MaxErrorLength bytes without a suffix.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	return msg[:runeBoundary(msg, MaxErrorLength)]
}

// runeBoundary moves n back to the start of the rune it falls in. len(s) > n.
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
