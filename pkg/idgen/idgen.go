// Package idgen generates identifiers for leads and events.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// LeadPrefix is prepended to every generated lead ID.
	LeadPrefix = "ld_"

	alphabet   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	leadLength = 12
)

// LeadID returns a short URL-safe lead identifier.
func LeadID() (string, error) {
	id, err := nanoid.Generate(alphabet, leadLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return LeadPrefix + id, nil
}

// EventID returns a random UUIDv4 used as an idempotency key when the caller sent none.
func EventID() string {
	return uuid.NewString()
}
