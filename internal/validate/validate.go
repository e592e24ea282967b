// Package validate classifies fetched content into ok / soft-failure /
// hard-failure verdicts. The verdict, not the raw status code, drives retry
// and circuit decisions: a 200 full of challenge HTML is not a success.
package validate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/crawlkit/crawld/internal/crawler"
)

// Verdict reasons.
const (
	ReasonTooShort    = "too-short"
	ReasonJSRequired  = "js-required"
	ReasonRateLimited = "rate-limited"
	ReasonPaywalled   = "paywalled"
	ReasonNoContent   = "missing-selector"
)

// Config tunes the classifier. Zero values fall back to the compiled-in
// defaults.
type Config struct {
	MinBytes int
	// ChallengeSignatures mark pages that demand JavaScript or an
	// anti-bot challenge; these are worth one headless retry.
	ChallengeSignatures []string
	// RateLimitSignatures mark pages telling us to slow down.
	RateLimitSignatures []string
	// PaywallSignatures mark content we will never get by retrying.
	PaywallSignatures []string
	// RequiredSelectors, when set, must all match the document for the
	// page to count as ok.
	RequiredSelectors []string
}

const defaultMinBytes = 512

var defaultChallengeSignatures = []string{
	"enable javascript",
	"javascript is required",
	"javascript is disabled",
	"checking your browser",
	"verify you are a human",
	"cf-challenge",
	"captcha",
	"attention required",
	"just a moment",
}

var defaultRateLimitSignatures = []string{
	"too many requests",
	"rate limit exceeded",
	"retry later",
	"request throttled",
}

var defaultPaywallSignatures = []string{
	"subscribe to continue",
	"subscription required",
	"this content is for subscribers",
	"paywall",
	"sign in to read",
}

// Service is a stateless classifier; Validate is a pure function of the
// outcome it is given.
type Service struct {
	minBytes  int
	challenge [][]byte
	rateLimit [][]byte
	paywall   [][]byte
	selectors []string
}

// New builds a Service from cfg, applying defaults for unset fields.
func New(cfg Config) *Service {
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = defaultMinBytes
	}
	challenge := cfg.ChallengeSignatures
	if len(challenge) == 0 {
		challenge = defaultChallengeSignatures
	}
	rateLimit := cfg.RateLimitSignatures
	if len(rateLimit) == 0 {
		rateLimit = defaultRateLimitSignatures
	}
	paywall := cfg.PaywallSignatures
	if len(paywall) == 0 {
		paywall = defaultPaywallSignatures
	}
	return &Service{
		minBytes:  minBytes,
		challenge: lowerAll(challenge),
		rateLimit: lowerAll(rateLimit),
		paywall:   lowerAll(paywall),
		selectors: cfg.RequiredSelectors,
	}
}

// Validate classifies the outcome's body. Check order matters: size first,
// then challenge, rate-limit and paywall signatures, then selectors.
func (s *Service) Validate(outcome crawler.FetchOutcome) crawler.Verdict {
	if len(outcome.Body) < s.minBytes {
		return crawler.Verdict{
			Classification: crawler.ClassHardFailure,
			Reason:         fmt.Sprintf("%s: %d bytes", ReasonTooShort, len(outcome.Body)),
		}
	}

	lower := bytes.ToLower(outcome.Body)
	if matchAny(lower, s.challenge) {
		return crawler.Verdict{Classification: crawler.ClassSoftFailure, Reason: ReasonJSRequired}
	}
	if matchAny(lower, s.rateLimit) {
		return crawler.Verdict{Classification: crawler.ClassSoftFailure, Reason: ReasonRateLimited}
	}
	if matchAny(lower, s.paywall) {
		return crawler.Verdict{Classification: crawler.ClassHardFailure, Reason: ReasonPaywalled}
	}

	if missing := s.missingSelector(outcome.Body); missing != "" {
		return crawler.Verdict{
			Classification: crawler.ClassSoftFailure,
			Reason:         fmt.Sprintf("%s: %s", ReasonNoContent, missing),
		}
	}

	return crawler.Verdict{Classification: crawler.ClassOK}
}

func (s *Service) missingSelector(body []byte) string {
	if len(s.selectors) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return s.selectors[0]
	}
	for _, sel := range s.selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if doc.Find(sel).Length() == 0 {
			return sel
		}
	}
	return ""
}

func lowerAll(in []string) [][]byte {
	out := make([][]byte, 0, len(in))
	for _, sig := range in {
		sig = strings.TrimSpace(sig)
		if sig == "" {
			continue
		}
		out = append(out, bytes.ToLower([]byte(sig)))
	}
	return out
}

func matchAny(lowerBody []byte, signatures [][]byte) bool {
	for _, sig := range signatures {
		if bytes.Contains(lowerBody, sig) {
			return true
		}
	}
	return false
}
