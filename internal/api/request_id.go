package api

import (
	"regexp"

	"github.com/google/uuid"
)

// requestIDPattern accepts a UUID or a short alphanumeric token (dashes and
// underscores allowed), matching what a well-behaved upstream caller would
// send in x-request-id.
var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{8,64}$`)

// requestID echoes a well-formed inbound x-request-id, or mints a fresh
// UUID when the header is absent or malformed.
func requestID(inbound string) string {
	if requestIDPattern.MatchString(inbound) {
		return inbound
	}
	return uuid.NewString()
}
