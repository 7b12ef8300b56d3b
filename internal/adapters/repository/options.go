package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithClock overrides the time source used for CreatedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLeadIDGenerator overrides how ids are assigned to new leads.
func WithLeadIDGenerator(gen func() (string, error)) Option {
	return func(s *MemoryStore) {
		if gen != nil {
			s.newLeadID = gen
		}
	}
}
