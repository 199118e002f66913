package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

func TestBearerTokenFromHeader(t *testing.T) {
	t.Parallel()

	if _, err := bearerTokenFromHeader(""); err == nil {
		t.Fatal("empty header must be rejected")
	}
	if _, err := bearerTokenFromHeader("Basic abc"); err == nil {
		t.Fatal("non-bearer scheme must be rejected")
	}
	if _, err := bearerTokenFromHeader("Bearer "); err == nil {
		t.Fatal("empty token must be rejected")
	}
	token, err := bearerTokenFromHeader("Bearer abc.def.ghi")
	if err != nil {
		t.Fatal(err)
	}
	if token != "abc.def.ghi" {
		t.Fatalf("token = %q", token)
	}
}

func TestMapDomainErrorStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrInvalidFingerprint, http.StatusBadRequest, domain.CodeInvalidFingerprint},
		{fmt.Errorf("%w: action is required", domain.ErrInvalidInput), http.StatusBadRequest, "VALIDATION_ERROR"},
		{domain.ErrNotAuthenticated, http.StatusUnauthorized, "NOT_AUTHENTICATED"},
		{domain.ErrSessionExpired, http.StatusUnauthorized, "SESSION_EXPIRED"},
		{domain.ErrSessionRevoked, http.StatusUnauthorized, "SESSION_REVOKED"},
		{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrRateLimited, http.StatusTooManyRequests, domain.CodeRateLimited},
		{domain.ErrBlockedDevice, http.StatusTooManyRequests, domain.CodeBlockedDevice},
		{domain.ErrTrialExhausted, http.StatusForbidden, domain.CodeTrialExhausted},
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: boom", domain.ErrStorage), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		status, code, _ := mapDomainError(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Fatalf("mapDomainError(%v) = (%d, %s), want (%d, %s)", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}

func TestSharedSecretMiddleware(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := sharedSecretMiddleware("X-Internal-Secret", "s3cret")(next)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	w := httptest.NewRecorder()
	guarded.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("missing secret: status = %d, want 403", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Internal-Secret", "wrong")
	w = httptest.NewRecorder()
	guarded.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: status = %d, want 403", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Internal-Secret", "s3cret")
	w = httptest.NewRecorder()
	guarded.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("correct secret: status = %d, want 204", w.Code)
	}

	disabled := sharedSecretMiddleware("X-Job-Secret", "")(next)
	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Job-Secret", "anything")
	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("disabled route: status = %d, want 403", w.Code)
	}
}

func TestReadIP(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.4:52011"
	if got := readIP(r); got != "198.51.100.4" {
		t.Fatalf("readIP = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := readIP(r); got != "203.0.113.9" {
		t.Fatalf("readIP with forwarded header = %q", got)
	}
}

func TestDecodeBodyRejectsTrailingData(t *testing.T) {
	t.Parallel()

	var dst struct {
		A string `json:"a"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"x"}{"a":"y"}`))
	if err := decodeBody(r, &dst); err == nil {
		t.Fatal("trailing JSON values must be rejected")
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"x","unknown":1}`))
	if err := decodeBody(r, &dst); err == nil {
		t.Fatal("unknown fields must be rejected")
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"x"}`))
	if err := decodeBody(r, &dst); err != nil {
		t.Fatalf("valid body rejected: %v", err)
	}
	if dst.A != "x" {
		t.Fatalf("decoded a = %q", dst.A)
	}
}
