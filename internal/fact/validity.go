package fact

import "errors"

// ErrInvalid is returned when a fact is missing required fields or carries an
// unknown enum value.
var ErrInvalid = errors.New("invalid fact")

// IsExpired reports whether the fact's hard TTL has elapsed at now (unix ms).
// The boundary is inclusive: a fact is expired exactly at validFrom + ttl.
func IsExpired(f *TemporalFact, now int64) bool {
	if f.TTLSeconds == nil {
		return false
	}
	return now >= f.ValidFrom+*f.TTLSeconds*1000
}

// IsInvalidated reports whether the fact has been closed at or before now.
// validTo is exclusive.
func IsInvalidated(f *TemporalFact, now int64) bool {
	if f.ValidTo == nil {
		return false
	}
	return now >= *f.ValidTo
}

// IsValid reports whether the fact is neither expired nor invalidated at now.
func IsValid(f *TemporalFact, now int64) bool {
	return !IsExpired(f, now) && !IsInvalidated(f, now)
}
