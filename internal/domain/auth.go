package domain

import "time"

// SessionPair bundles the tokens returned by login and refresh.
type SessionPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
