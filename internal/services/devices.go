package services

import (
	"net/http"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/mutation"
)

// RevokeDevicesInput forgets every trusted device.
type RevokeDevicesInput struct{}

// RevokeSessionInput signs out one session.
type RevokeSessionInput struct {
	ID string `json:"id" validate:"required,max=128"`
}

// NoInput is the input of queries.
type NoInput struct{}

// RevokeDevicesResult reports how many devices were forgotten.
type RevokeDevicesResult struct {
	mutation.Result
	Revoked int `json:"revoked"`
}

var RevokeTrustedDevices = mutation.Operation[RevokeDevicesInput, RevokeDevicesResult]{
	Name:             OpRevokeTrustedDevices,
	Method:           http.MethodPost,
	Path:             "/auth/devices/revoke-all",
	RetryOnRateLimit: true,
	Transform:        mutation.NoBody[RevokeDevicesInput],
	Normalize: func(f *mutation.Fields) (RevokeDevicesResult, error) {
		var out RevokeDevicesResult
		if _, err := f.Take(&out.Revoked, "revoked", "count"); err != nil {
			return out, err
		}
		res, err := f.Result()
		out.Result = res
		return out, err
	},
}

var RevokeSession = mutation.Operation[RevokeSessionInput, mutation.Result]{
	Name:             OpRevokeSession,
	Method:           http.MethodDelete,
	Path:             "/auth/sessions/{id}",
	RetryOnRateLimit: true,
	PathParams: func(in RevokeSessionInput) map[string]string {
		return map[string]string{"id": in.ID}
	},
	Normalize: mutation.NormalizeOK,
}

var ListTrustedDevices = mutation.Operation[NoInput, []models.TrustedDevice]{
	Name:   OpListTrustedDevices,
	Method: http.MethodGet,
	Path:   "/auth/devices",
	Query:  true,
	Normalize: func(f *mutation.Fields) ([]models.TrustedDevice, error) {
		devices := []models.TrustedDevice{}
		if _, err := f.Take(&devices, "devices", "items"); err != nil {
			return nil, err
		}
		return devices, nil
	},
}

var ListSessions = mutation.Operation[NoInput, []models.AccountSession]{
	Name:   OpListSessions,
	Method: http.MethodGet,
	Path:   "/auth/sessions",
	Query:  true,
	Normalize: func(f *mutation.Fields) ([]models.AccountSession, error) {
		sessions := []models.AccountSession{}
		if _, err := f.Take(&sessions, "sessions", "items"); err != nil {
			return nil, err
		}
		return sessions, nil
	},
}

var MFAStatus = mutation.Operation[NoInput, models.MFAStatus]{
	Name:   OpMFAStatus,
	Method: http.MethodGet,
	Path:   "/auth/mfa/status",
	Query:  true,
	Normalize: func(f *mutation.Fields) (models.MFAStatus, error) {
		var out models.MFAStatus
		if _, err := f.Take(&out.Enabled, "enabled", "mfa_enabled"); err != nil {
			return out, err
		}
		if _, err := f.Take(&out.Method, "method"); err != nil {
			return out, err
		}
		if _, err := f.Take(&out.RemainingCodes, "remaining_codes", "recovery_codes_remaining"); err != nil {
			return out, err
		}
		return out, nil
	},
}
