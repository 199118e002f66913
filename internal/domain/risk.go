package domain

import (
	"net/netip"
	"strings"
)

// RiskContext carries the request signals the advisory scorer looks at.
type RiskContext struct {
	UserAgent   string
	Fingerprint string
	IPAddress   string
	KnownDevice bool
}

// automationSignatures are user-agent fragments typical of scripted clients.
var automationSignatures = []string{
	"headless", "phantomjs", "selenium", "puppeteer", "playwright",
	"bot", "crawler", "spider", "curl/", "wget/", "python-requests",
}

// ScoreRisk combines weak signals into an advisory score in [0, 100].
// The score feeds the conflict detector and manual review; it never blocks
// an action on its own.
func ScoreRisk(ctx RiskContext) int {
	score := 20

	ua := strings.ToLower(ctx.UserAgent)
	for _, sig := range automationSignatures {
		if strings.Contains(ua, sig) {
			score += 25
			break
		}
	}
	if ua == "" {
		score += 15
	}

	if ctx.Fingerprint == "" {
		score += 20
	} else if !ValidateFingerprint(ctx.Fingerprint, nil).IsValid {
		score += 15
	}

	if !ctx.KnownDevice {
		score += 10
	}

	if addr, err := netip.ParseAddr(ctx.IPAddress); err == nil {
		if addr.IsPrivate() || addr.IsLoopback() {
			score -= 15
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
