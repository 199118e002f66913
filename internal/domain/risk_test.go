package domain

import "testing"

func TestScoreRisk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  RiskContext
		want int
	}{
		{
			name: "known browser on public ip",
			ctx: RiskContext{
				UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
				Fingerprint: "fp-a1b2c3d4e5f6a7b8",
				IPAddress:   "203.0.113.9",
				KnownDevice: true,
			},
			want: 20,
		},
		{
			name: "automation client with valid fingerprint",
			ctx: RiskContext{
				UserAgent:   "curl/8.4.0",
				Fingerprint: "fp-a1b2c3d4e5f6a7b8",
				IPAddress:   "203.0.113.9",
			},
			want: 55,
		},
		{
			name: "automation client without fingerprint",
			ctx: RiskContext{
				UserAgent: "curl/8.4.0",
				IPAddress: "203.0.113.9",
			},
			want: 75,
		},
		{
			name: "empty user agent and malformed fingerprint",
			ctx: RiskContext{
				Fingerprint: "bad",
				IPAddress:   "203.0.113.9",
			},
			want: 60,
		},
		{
			name: "loopback origin discounts",
			ctx: RiskContext{
				UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
				Fingerprint: "fp-a1b2c3d4e5f6a7b8",
				IPAddress:   "127.0.0.1",
				KnownDevice: true,
			},
			want: 5,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ScoreRisk(tt.ctx); got != tt.want {
				t.Fatalf("ScoreRisk = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreRiskIsClamped(t *testing.T) {
	t.Parallel()

	got := ScoreRisk(RiskContext{
		UserAgent:   "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		Fingerprint: "fp-a1b2c3d4e5f6a7b8",
		IPAddress:   "10.0.0.5",
		KnownDevice: true,
	})
	if got != 5 {
		t.Fatalf("ScoreRisk = %d, want 5", got)
	}
	if got < 0 || got > 100 {
		t.Fatalf("score %d outside [0,100]", got)
	}
}
