package utils

import "github.com/google/uuid"

// NewRunID returns a random (v4) identifier for a fingerprinting run.
func NewRunID() string {
	return uuid.NewString()
}

// ValidRunID reports whether s parses as a UUID.
func ValidRunID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
