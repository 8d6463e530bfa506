package mutation

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// HeaderIdempotencyKey carries the logical-submission key on every mutating request.
const HeaderIdempotencyKey = "Idempotency-Key"

// KeyIssuer produces idempotency keys. Keys must be unique per logical submission.
type KeyIssuer interface {
	Issue() string
}

// UUIDIssuer issues random (version 4) UUIDs.
type UUIDIssuer struct{}

func (UUIDIssuer) Issue() string {
	return uuid.NewString()
}

// KSUIDIssuer issues K-sortable ids: 128 random bits behind a timestamp.
type KSUIDIssuer struct{}

func (KSUIDIssuer) Issue() string {
	return ksuid.New().String()
}

// KeyIssuerFunc adapts a function to [KeyIssuer].
type KeyIssuerFunc func() string

func (f KeyIssuerFunc) Issue() string {
	return f()
}

// NewKeyIssuer selects an issuer by config name. An empty name selects uuid.
func NewKeyIssuer(format string) (KeyIssuer, error) {
	switch format {
	case "", "uuid":
		return UUIDIssuer{}, nil
	case "ksuid":
		return KSUIDIssuer{}, nil
	}
	return nil, fmt.Errorf("unknown idempotency key format %q", format)
}
