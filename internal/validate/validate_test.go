package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crawlkit/crawld/internal/crawler"
)

func pad(s string, n int) []byte {
	return []byte(s + strings.Repeat("x", n))
}

func TestValidateTooShort(t *testing.T) {
	t.Parallel()

	svc := New(Config{MinBytes: 100})
	verdict := svc.Validate(crawler.FetchOutcome{Body: []byte("<html></html>")})
	require.Equal(t, crawler.ClassHardFailure, verdict.Classification)
	require.Contains(t, verdict.Reason, ReasonTooShort)
}

func TestValidateChallengeIsSoftFailure(t *testing.T) {
	t.Parallel()

	svc := New(Config{MinBytes: 10})
	body := pad("<html><body>Please enable JavaScript to continue.</body></html>", 100)
	verdict := svc.Validate(crawler.FetchOutcome{StatusCode: 200, Body: body})

	require.Equal(t, crawler.ClassSoftFailure, verdict.Classification, "a 200 full of challenge HTML is not ok")
	require.Equal(t, ReasonJSRequired, verdict.Reason)
	require.Equal(t, crawler.ErrKindValidationSoft, verdict.ErrorKind())
}

func TestValidateRateLimitIsSoftFailure(t *testing.T) {
	t.Parallel()

	svc := New(Config{MinBytes: 10})
	verdict := svc.Validate(crawler.FetchOutcome{Body: pad("Too Many Requests, slow down", 100)})
	require.Equal(t, crawler.ClassSoftFailure, verdict.Classification)
	require.Equal(t, ReasonRateLimited, verdict.Reason)
}

func TestValidatePaywallIsHardFailure(t *testing.T) {
	t.Parallel()

	svc := New(Config{MinBytes: 10})
	verdict := svc.Validate(crawler.FetchOutcome{Body: pad("Subscribe to continue reading", 100)})
	require.Equal(t, crawler.ClassHardFailure, verdict.Classification)
	require.Equal(t, ReasonPaywalled, verdict.Reason)
	require.Equal(t, crawler.ErrKindValidationHard, verdict.ErrorKind())
}

func TestValidateRequiredSelectors(t *testing.T) {
	t.Parallel()

	svc := New(Config{MinBytes: 10, RequiredSelectors: []string{"article"}})

	ok := svc.Validate(crawler.FetchOutcome{Body: pad("<html><body><article>hello</article></body></html>", 100)})
	require.True(t, ok.OK())

	missing := svc.Validate(crawler.FetchOutcome{Body: pad("<html><body><div>hello</div></body></html>", 100)})
	require.Equal(t, crawler.ClassSoftFailure, missing.Classification)
	require.Contains(t, missing.Reason, "article")
}

func TestValidateIsPure(t *testing.T) {
	t.Parallel()

	svc := New(Config{})
	outcome := crawler.FetchOutcome{Body: pad("<html><body>plenty of ordinary content here</body></html>", 600)}

	first := svc.Validate(outcome)
	second := svc.Validate(outcome)
	require.Equal(t, first, second, "validation must be a pure function of the outcome")
	require.True(t, first.OK())
}
