package cache

import (
	"encoding/json"
	"fmt"

	"github.com/desertthunder/moviesnow/internal/mutation"
)

// Cache keys. A trailing "*" in a rule matches every key with that prefix.
const (
	KeyAuthSession    = "auth:session"
	KeySessionList    = "auth:sessions"
	KeyTrustedDevices = "devices:trusted"
	KeyDeviceStatus   = "devices:status"
	KeyMFAStatus      = "mfa:status"
	KeyRecoveryCodes  = "mfa:recovery-codes"
	KeyAccountProfile = "account:profile"
	KeyAccountPrefix  = "account:*"
	KeyDevicesPrefix  = "devices:*"
	KeyMFAPrefix      = "mfa:*"
	KeyAuthPrefix     = "auth:*"
)

// RewriteFunc computes the optimistic value of a key from its current value (nil when absent).
// Returning false leaves the key untouched.
type RewriteFunc func(m mutation.Mutation, current json.RawMessage) (json.RawMessage, bool, error)

// Rule describes how one operation affects cached state.
type Rule struct {
	// Invalidate lists keys marked stale once the mutation succeeds.
	Invalidate []string
	// Rewrite lists keys updated before dispatch and restored if the mutation fails.
	Rewrite map[string]RewriteFunc
	// Store is the key a successful query result is written to.
	Store string
}

// Keys returns every key the rule writes to before dispatch.
func (r Rule) Keys() []string {
	keys := make([]string, 0, len(r.Rewrite))
	for k := range r.Rewrite {
		keys = append(keys, k)
	}
	return keys
}

// DefaultRules maps MoviesNow operations to their cache effects.
func DefaultRules() map[string]Rule {
	signOut := []string{KeyAuthPrefix, KeyAccountPrefix, KeyDevicesPrefix, KeyMFAPrefix}

	return map[string]Rule{
		"confirm-password-reset": {Invalidate: []string{KeyAuthSession}},
		"change-password":        {Invalidate: []string{KeyAuthSession, KeySessionList}},
		"start-email-change":     {Invalidate: []string{KeyAccountProfile}},
		"confirm-email-change":   {Invalidate: []string{KeyAccountProfile, KeyAuthSession}},
		"deactivate-account":     {Invalidate: signOut},
		"delete-account":         {Invalidate: signOut},

		"mfa-enable":                {Invalidate: []string{KeyMFAStatus}},
		"mfa-verify":                {Invalidate: []string{KeyMFAStatus, KeyRecoveryCodes}},
		"mfa-disable":               {Invalidate: []string{KeyMFAStatus, KeyRecoveryCodes, KeyTrustedDevices}},
		"regenerate-recovery-codes": {Invalidate: []string{KeyMFAStatus, KeyRecoveryCodes}},
		"mfa-login":                 {Invalidate: []string{KeyAuthSession, KeySessionList}},
		"login":                     {Invalidate: []string{KeyAuthSession, KeySessionList}},
		"reauthenticate":            {Invalidate: []string{KeyAuthSession}},

		"revoke-trusted-devices": {
			Invalidate: []string{KeyDeviceStatus},
			Rewrite:    map[string]RewriteFunc{KeyTrustedDevices: emptyList},
		},
		"revoke-session": {
			Rewrite: map[string]RewriteFunc{KeySessionList: removeByParam("id")},
		},

		"list-trusted-devices": {Store: KeyTrustedDevices},
		"list-sessions":        {Store: KeySessionList},
		"mfa-status":           {Store: KeyMFAStatus},
	}
}

func emptyList(mutation.Mutation, json.RawMessage) (json.RawMessage, bool, error) {
	return json.RawMessage(`[]`), true, nil
}

// removeByParam drops the element whose "id" equals the named path parameter from a cached list.
func removeByParam(param string) RewriteFunc {
	return func(m mutation.Mutation, current json.RawMessage) (json.RawMessage, bool, error) {
		if current == nil {
			return nil, false, nil
		}

		var items []map[string]any
		if err := json.Unmarshal(current, &items); err != nil {
			return nil, false, fmt.Errorf("cached value is not a list: %w", err)
		}

		id := m.Params[param]
		kept := items[:0]
		for _, item := range items {
			if fmt.Sprint(item["id"]) != id {
				kept = append(kept, item)
			}
		}
		if len(kept) == len(items) {
			return nil, false, nil
		}

		data, err := json.Marshal(kept)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
}
