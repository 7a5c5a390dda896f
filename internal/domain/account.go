package domain

import "strings"

// AccountID identifies an account known to the host environment.
type AccountID string

// Valid reports whether the id is non-empty after trimming whitespace.
func (a AccountID) Valid() bool {
	return strings.TrimSpace(string(a)) != ""
}

func (a AccountID) String() string {
	return string(a)
}
