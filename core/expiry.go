package core

import (
	"strings"
	"time"
)

const DefaultMaxAge = 30 * time.Minute

type ExpiryMode string

const (
	// ExpiryModeTimeout answers stale pending requests with a timeout error
	// response instead of dispatching them.
	ExpiryModeTimeout ExpiryMode = "timeout"
	// ExpiryModeUniform applies the age rule to every state: stale pending
	// requests are dropped without an answer.
	ExpiryModeUniform ExpiryMode = "uniform"
)

func (m ExpiryMode) Valid() bool {
	switch m {
	case ExpiryModeTimeout, ExpiryModeUniform:
		return true
	default:
		return false
	}
}

// ParseExpiryMode normalizes raw; an empty value selects ExpiryModeTimeout.
func ParseExpiryMode(raw string) ExpiryMode {
	mode := ExpiryMode(strings.TrimSpace(strings.ToLower(raw)))
	if mode == "" {
		return ExpiryModeTimeout
	}
	return mode
}

// Trim keeps entries strictly younger than maxAge. An entry aged exactly
// maxAge is expired.
func Trim(entries []Entry, now time.Time, maxAge time.Duration) []Entry {
	fresh, _ := SplitExpired(entries, now, maxAge)
	return fresh
}

func SplitExpired(entries []Entry, now time.Time, maxAge time.Duration) (fresh []Entry, expired []Entry) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	fresh = make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Age(now) < maxAge {
			fresh = append(fresh, entry)
			continue
		}
		expired = append(expired, entry)
	}
	return fresh, expired
}
