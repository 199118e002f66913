package domain

const (
	// MinFingerprintLength rejects identifiers too short to distinguish devices.
	MinFingerprintLength = 16
	maxFingerprintLength = 128

	// ConfidenceThreshold splits trusted quota keys from soft keys.
	// Soft keys stay valid but run under the stricter anonymous rate limit.
	ConfidenceThreshold = 40
)

// stableComponents are the browser signals that raise confidence most when
// present, because they rarely change between visits of the same device.
var stableComponents = []string{"timezone", "language", "platform", "screen_resolution", "hardware_concurrency"}

// FingerprintValidation is the verdict on a client-supplied fingerprint.
type FingerprintValidation struct {
	IsValid    bool
	Confidence int
	Reasons    []string
}

// LowTrust reports whether the fingerprint should only be used as a soft key.
func (v FingerprintValidation) LowTrust() bool {
	return v.IsValid && v.Confidence < ConfidenceThreshold
}

// ValidateFingerprint judges whether a fingerprint is well-formed and how much
// the supplied browser components support it. Pure function; persistence and
// rate limiting belong to the trial quota manager.
func ValidateFingerprint(fingerprint string, components map[string]any) FingerprintValidation {
	v := FingerprintValidation{}

	if len(fingerprint) < MinFingerprintLength {
		v.Reasons = append(v.Reasons, "fingerprint shorter than minimum length")
		return v
	}
	if len(fingerprint) > maxFingerprintLength {
		v.Reasons = append(v.Reasons, "fingerprint exceeds maximum length")
		return v
	}
	for _, r := range fingerprint {
		if !isFingerprintRune(r) {
			v.Reasons = append(v.Reasons, "fingerprint contains invalid characters")
			return v
		}
	}

	v.IsValid = true
	v.Confidence = confidenceScore(components)
	if v.Confidence < ConfidenceThreshold {
		v.Reasons = append(v.Reasons, "low component confidence; treated as soft key")
	}
	return v
}

func isFingerprintRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

// confidenceScore weights component count plus the presence of stable signals.
// Ten points per component (up to five) and ten per stable signal, capped at 100.
func confidenceScore(components map[string]any) int {
	if len(components) == 0 {
		return 0
	}
	score := len(components) * 10
	if score > 50 {
		score = 50
	}
	for _, name := range stableComponents {
		if val, ok := components[name]; ok && val != nil && val != "" {
			score += 10
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}
