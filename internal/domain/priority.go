package domain

import "crypto/sha256"

// Priority scoring:
// Three small coefficients are derived from a SHA-256 of the deployment seed,
// so the same seed always yields the same weights:
//   A = 7  + h[0]%5  -> [7, 11]
//   B = 13 + h[1]%7  -> [13, 19]
//   C = 3  + h[2]%3  -> [3, 5]
// score = max(0, 1000 + latency%A + accountAge%B - rapidActions%C)
//
// Changing the seed mid-deployment invalidates comparability of previously
// stored scores; the seed is fixed for the life of the deployment.

const scoreBase = 1000

// Scorer computes waitlist priority scores. Pure: no state beyond the
// seed-derived coefficients, no I/O.
type Scorer struct {
	a, b, c int
}

func NewScorer(seed string) *Scorer {
	h := sha256.Sum256([]byte(seed))
	return &Scorer{
		a: 7 + int(h[0])%5,
		b: 13 + int(h[1])%7,
		c: 3 + int(h[2])%3,
	}
}

// Coefficients exposes the derived weights for startup logging.
func (s *Scorer) Coefficients() (a, b, c int) { return s.a, s.b, s.c }

// Score is total on inputs: negatives are clamped to zero rather than
// rejected, since upstream constructs them >= 0.
func (s *Scorer) Score(signupLatencyMs, accountAgeDays, rapidActionCount int) int {
	if signupLatencyMs < 0 {
		signupLatencyMs = 0
	}
	if accountAgeDays < 0 {
		accountAgeDays = 0
	}
	if rapidActionCount < 0 {
		rapidActionCount = 0
	}

	score := scoreBase + signupLatencyMs%s.a + accountAgeDays%s.b - rapidActionCount%s.c
	if score < 0 {
		score = 0
	}
	return score
}
