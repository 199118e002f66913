package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M09-identity-consistency-service/internal/domain"
)

const testFingerprint = "fp-a1b2c3d4e5f6a7b8c9d0"

// trustedComponents pushes confidence above the soft-key threshold so tests
// exercise the durable quota path rather than the anonymous limiter.
func trustedComponents() map[string]any {
	return map[string]any{
		"timezone":          "Europe/Berlin",
		"language":          "de-DE",
		"platform":          "MacIntel",
		"screen_resolution": "2560x1440",
		"canvas_hash":       "c0ffee",
	}
}

func consumeReq(fingerprint string) TrialConsumeRequest {
	return TrialConsumeRequest{
		Fingerprint: fingerprint,
		Action:      "generate",
		Components:  trustedComponents(),
	}
}

func TestConsumeTrialDecrementsToExhaustion(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		resp, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !resp.Success {
			t.Fatalf("consume %d: expected success, got code %q", i, resp.Code)
		}
		if want := 4 - i; resp.Remaining != want {
			t.Fatalf("consume %d: remaining = %d, want %d", i, resp.Remaining, want)
		}
	}

	resp, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatalf("consume after exhaustion: %v", err)
	}
	if resp.Success {
		t.Fatal("expected denial after quota exhausted")
	}
	if resp.Code != domain.CodeTrialExhausted {
		t.Fatalf("code = %q, want %q", resp.Code, domain.CodeTrialExhausted)
	}
	if resp.NextResetAt == nil {
		t.Fatal("exhausted response must carry next reset time")
	}
}

func TestConsumeTrialNeverOversellsUnderConcurrency(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	const attempts = 10 // 2x the budget
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
			if err != nil {
				return
			}
			if resp.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 5 {
		t.Fatalf("successes = %d, want exactly 5", successes)
	}
	rec, err := env.trials.Get(ctx, testFingerprint)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", rec.Remaining)
	}
}

func TestConsumeTrialRejectsInvalidFingerprint(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	for _, fp := range []string{"", "short", "has spaces in it yes", "bad!chars#here$definitely"} {
		req := consumeReq(fp)
		_, err := env.svc.ConsumeTrial(context.Background(), req)
		if !errors.Is(err, domain.ErrInvalidFingerprint) {
			t.Fatalf("fingerprint %q: err = %v, want ErrInvalidFingerprint", fp, err)
		}
	}
}

func TestConsumeTrialRateLimitMeetVersusExceed(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()
	now := env.clock.Now()

	// Seed the window at exactly the limit. The record keeps quota so only the
	// window denies.
	if _, err := env.trials.GetOrCreate(ctx, testFingerprint, 5, now); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		_ = env.trials.AppendAction(ctx, domain.TrialAction{
			Fingerprint: testFingerprint,
			ActionType:  "generate",
			CreatedAt:   now.Add(-time.Minute),
		})
	}

	// Meeting the limit rate-limits without blocking.
	resp, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.RateLimited || resp.Blocked {
		t.Fatalf("at limit: rate_limited=%v blocked=%v, want true/false", resp.RateLimited, resp.Blocked)
	}

	// The denied attempt was itself logged, so the next attempt sees the window
	// above the limit and escalates to a block.
	resp, err = env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Blocked {
		t.Fatal("exceeding the window must escalate to a block")
	}
	if resp.Code != domain.CodeBlockedDevice {
		t.Fatalf("code = %q, want %q", resp.Code, domain.CodeBlockedDevice)
	}

	// The block write is stamped with the service clock, not wall time.
	rec, err := env.trials.Get(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("block stamped %v, want service clock %v", rec.UpdatedAt, env.clock.Now())
	}

	// The block outlives the window: even with an empty window the fingerprint
	// stays denied until the block expires.
	if _, err := env.trials.DeleteActionsBefore(ctx, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	resp, err = env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Blocked {
		t.Fatal("blocked fingerprint must stay denied regardless of window state")
	}

	env.clock.Advance(25 * time.Hour)
	resp, err = env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("after block expiry: expected success, got code %q", resp.Code)
	}
}

func TestConsumeTrialLazyResetRestoresBudget(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint)); err != nil {
			t.Fatal(err)
		}
	}

	env.clock.Advance(169 * time.Hour)
	resp, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatalf("expected success after reset interval, got code %q", resp.Code)
	}
	if resp.Remaining != 4 {
		t.Fatalf("remaining = %d, want 4 (full budget minus this consume)", resp.Remaining)
	}
}

func TestResetTrialIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint)); err != nil {
			t.Fatal(err)
		}
	}
	env.clock.Advance(169 * time.Hour)

	first, err := env.svc.ResetTrial(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if !first {
		t.Fatal("first reset past the interval must apply")
	}
	second, err := env.svc.ResetTrial(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Fatal("second reset must be a no-op")
	}
	rec, err := env.trials.Get(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Remaining != rec.Total {
		t.Fatalf("remaining = %d, want full budget %d", rec.Remaining, rec.Total)
	}
}

func TestConsumeTrialDecrementFailureIsNotRetried(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint)); err != nil {
		t.Fatal(err)
	}
	env.trials.failConsume = true
	_, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	env.trials.failConsume = false

	rec, err := env.trials.Get(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Remaining != 4 {
		t.Fatalf("remaining = %d after failed decrement, want 4 (no double spend)", rec.Remaining)
	}
}

func TestConsumeTrialIdempotentReadRetriesOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	// One transient window-count failure is absorbed by the retry.
	env.trials.failCount = 1
	resp, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if err != nil {
		t.Fatalf("single transient failure should be retried: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got code %q", resp.Code)
	}

	// Two consecutive failures exhaust the single retry.
	env.trials.failCount = 2
	_, err = env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint))
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage after retry exhausted", err)
	}
}

func TestTrialStatusUnknownFingerprintReportsFullBudget(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	status, err := env.svc.TrialStatus(context.Background(), testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if status.Remaining != 5 || status.Total != 5 || status.Blocked {
		t.Fatalf("unknown fingerprint status = %+v, want full unblocked budget", status)
	}
}

func TestConsumeTrialSoftKeyLimiter(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	// No components means zero confidence: the fingerprint is a valid soft key
	// and runs under the stricter anonymous limiter (3/hour in the fixture).
	req := TrialConsumeRequest{Fingerprint: testFingerprint, Action: "generate"}
	for i := 0; i < 3; i++ {
		resp, err := env.svc.ConsumeTrial(ctx, req)
		if err != nil {
			t.Fatal(err)
		}
		if !resp.Success {
			t.Fatalf("soft-key consume %d: expected success, got code %q", i, resp.Code)
		}
	}

	resp, err := env.svc.ConsumeTrial(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.RateLimited {
		t.Fatal("soft key past its hourly budget must be rate limited")
	}
	// The denial happened before any durable read or write.
	rec, err := env.trials.Get(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2 (soft denial touches no durable state)", rec.Remaining)
	}
}

func TestConsumeTrialRefreshesStatusCacheWholesale(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.ConsumeTrial(ctx, consumeReq(testFingerprint)); err != nil {
		t.Fatal(err)
	}
	cached, err := env.trialCache.Get(ctx, testFingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if cached == nil {
		t.Fatal("consume must refresh the status cache")
	}
	if cached.Remaining != 4 {
		t.Fatalf("cached remaining = %d, want 4", cached.Remaining)
	}
}
