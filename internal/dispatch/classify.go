package dispatch

// IsFatal classifies an HTTP response status for the retry machinery.
// Client errors in [400,500) end delivery permanently, with two exceptions
// the receiver can recover from on its own: 429 (rate limited) and 408
// (request timeout). Everything else, 5xx and 3xx included, is transient.
// 404 counts as fatal: a missing path is an owner misconfiguration that
// retrying cannot fix, and the event stays replayable once the URL is
// corrected.
func IsFatal(status int) bool {
	if status == 429 || status == 408 {
		return false
	}
	return status >= 400 && status < 500
}

// IsSuccess reports whether the response status finalizes the event as
// delivered.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}
