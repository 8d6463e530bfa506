package models

import (
	"encoding/json"
	"time"
)

// CacheEntry is a cached query result. Value holds raw JSON so the cache stays schema agnostic.
type CacheEntry struct {
	Key       string
	Value     json.RawMessage
	Stale     bool
	Sequence  int
	UpdatedAt time.Time
}

// StoredToken is the persisted form of the session credentials.
type StoredToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	UpdatedAt    time.Time
}

// TrustedDevice is a device remembered after a successful MFA login.
type TrustedDevice struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AccountSession is an active login session.
type AccountSession struct {
	ID        string    `json:"id"`
	UserAgent string    `json:"user_agent"`
	IP        string    `json:"ip"`
	Current   bool      `json:"current"`
	CreatedAt time.Time `json:"created_at"`
}

// MFAStatus describes the MFA state of the account.
type MFAStatus struct {
	Enabled        bool   `json:"enabled"`
	Method         string `json:"method,omitempty"`
	RemainingCodes int    `json:"remaining_codes"`
}
