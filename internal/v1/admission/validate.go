package admission

import (
	"fmt"
	"regexp"
)

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// validationError accumulates every schema violation instead of returning
// on the first one. The signaling payload validators in the session package
// do not do this: they return on the first violation.
type validationError struct {
	fields map[string]string
}

func newValidationError() *validationError {
	return &validationError{fields: make(map[string]string)}
}

func (v *validationError) add(field, msg string) {
	v.fields[field] = msg
}

func (v *validationError) ok() bool {
	return len(v.fields) == 0
}

func (v *validationError) Error() string {
	return fmt.Sprintf("validation failed: %d field(s)", len(v.fields))
}

func (req *createRoomRequest) validate() *validationError {
	v := newValidationError()
	if !hexPattern.MatchString(req.FileHash) {
		v.add("file_hash", "must be 64 hex characters")
	}
	if req.DurationMs <= 0 {
		v.add("duration_ms", "must be a positive integer")
	}
	if req.FileSize <= 0 {
		v.add("file_size", "must be a positive integer")
	}
	if req.ExpiresInDays < 1 || req.ExpiresInDays > 30 {
		v.add("expires_in_days", "must be between 1 and 30")
	}
	if req.Passcode != "" && (len(req.Passcode) < 4 || len(req.Passcode) > 20) {
		v.add("passcode", "must be 4-20 characters")
	}
	return v
}

func (req *validateRequest) validate() *validationError {
	v := newValidationError()
	if req.FileHash != "" && !hexPattern.MatchString(req.FileHash) {
		v.add("file_hash", "must be 64 hex characters")
	}
	return v
}

func isValidRoomID(id string) bool {
	return len(id) >= 6 && len(id) <= 8
}
