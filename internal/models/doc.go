// Package models defines the plain data types shared by the mnow client layers.
//
// The package contains two categories of types:
//
// 1. Backend views: decoded from MoviesNow query responses
//   - [TrustedDevice] : A device that may skip MFA on login
//   - [AccountSession] : An active login session listed on the admin dashboard
//   - [MFAStatus] : Whether MFA is enabled and how many recovery codes remain
//
// 2. Local records: persisted in the client's SQLite database
//   - [CacheEntry] : A cached query result keyed by a logical cache key
//   - [StoredToken] : The current session credentials
package models
