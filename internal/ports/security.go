package ports

import (
	"time"

	"github.com/google/uuid"
)

// SessionClaims is the authenticated context carried by an access token.
type SessionClaims struct {
	IdentityID uuid.UUID `json:"identity_id"`
	SessionID  uuid.UUID `json:"session_id"`
	DeviceID   uuid.UUID `json:"device_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	KeyID      string    `json:"kid"`
}

// TokenSigner signs and validates session access tokens.
type TokenSigner interface {
	Sign(claims SessionClaims) (string, error)
	ParseAndValidate(token string) (SessionClaims, error)
	PublicJWKs() ([]map[string]any, error)
}
