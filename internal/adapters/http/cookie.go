package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

const fingerprintCookieName = "icc_fp"

// signFingerprint produces the cookie value: base64url(fingerprint).base64url(hmac).
func signFingerprint(fingerprint, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fingerprint))
	return base64.RawURLEncoding.EncodeToString([]byte(fingerprint)) +
		"." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyFingerprintCookie splits and checks a signed cookie value. The
// fingerprint is only returned when the signature matches.
func verifyFingerprintCookie(value, secret string) (string, bool) {
	parts := strings.SplitN(value, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	if subtle.ConstantTimeCompare(sig, mac.Sum(nil)) != 1 {
		return "", false
	}
	return string(raw), true
}

func (h *Handler) setFingerprintCookie(w http.ResponseWriter, fingerprint string) {
	if h.cfg.CookieSecret == "" || fingerprint == "" {
		return
	}
	days := h.cfg.CookieTTLDays
	if days <= 0 {
		days = 7
	}
	http.SetCookie(w, &http.Cookie{
		Name:     fingerprintCookieName,
		Value:    signFingerprint(fingerprint, h.cfg.CookieSecret),
		Path:     "/",
		MaxAge:   days * 24 * 60 * 60,
		Expires:  time.Now().Add(time.Duration(days) * 24 * time.Hour),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// fingerprintFromCookie recovers a previously issued fingerprint hint, if any.
func (h *Handler) fingerprintFromCookie(r *http.Request) (string, bool) {
	if h.cfg.CookieSecret == "" {
		return "", false
	}
	c, err := r.Cookie(fingerprintCookieName)
	if err != nil {
		return "", false
	}
	return verifyFingerprintCookie(c.Value, h.cfg.CookieSecret)
}
