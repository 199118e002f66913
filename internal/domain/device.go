package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Device summarizes one distinguishable client an identity has logged in from.
// Active == false implies every session of the device has been invalidated;
// devices are deactivated, never deleted, to preserve signature history.
type Device struct {
	DeviceID      uuid.UUID
	IdentityID    uuid.UUID
	SignatureHash string
	Label         string
	Trusted       bool
	Active        bool
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// DeviceSignature derives the registry key from fingerprint and user agent.
// Hashing keeps raw fingerprints out of the device table.
func DeviceSignature(fingerprint, userAgent string) string {
	sum := sha256.Sum256([]byte(fingerprint + "\x00" + userAgent))
	return hex.EncodeToString(sum[:])
}

// ConflictType tags why a candidate login collided with an existing device.
type ConflictType string

const (
	// ConflictConcurrentLogin marks a second device acting within the
	// conflict window of the candidate's login.
	ConflictConcurrentLogin ConflictType = "concurrent_login"
	// ConflictSuspiciousLogin marks a new device signature combined with a
	// high advisory risk score.
	ConflictSuspiciousLogin ConflictType = "suspicious_login"
)

// Conflict is one flagged collision between the candidate and another device.
// Conflicts never terminate sessions; resolution stays with the human.
type Conflict struct {
	Type       ConflictType
	DeviceID   uuid.UUID
	RiskScore  int
	Reason     string
	DetectedAt time.Time
}
