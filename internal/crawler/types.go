package crawler

import (
	"net/http"
	"time"
)

// FetchSource identifies which path produced a FetchOutcome.
type FetchSource string

// Fetch sources recorded on outcomes.
const (
	SourceCache            FetchSource = "cache"
	SourceNetwork          FetchSource = "network"
	SourceHeadless         FetchSource = "headless"
	SourceHeadlessFallback FetchSource = "headless-fallback"
)

// ErrorKind categorizes fetch failures for retry and circuit decisions.
type ErrorKind string

// Error kinds. Transient kinds are retried locally with backoff; validation
// kinds come from content classification rather than the transport.
const (
	ErrKindNone           ErrorKind = ""
	ErrKindDNS            ErrorKind = "dns"
	ErrKindTLS            ErrorKind = "tls"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindReset          ErrorKind = "reset"
	ErrKindHTTP           ErrorKind = "http-error"
	ErrKindValidationHard ErrorKind = "validation-hard"
	ErrKindValidationSoft ErrorKind = "validation-soft"
)

// Transient reports whether the kind should be retried by the same method.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindDNS, ErrKindTimeout, ErrKindReset:
		return true
	default:
		return false
	}
}

// FetchOutcome is the immutable result of a single fetch attempt. Transport
// failures are captured in ErrorKind rather than returned as errors so that
// every attempt produces a record.
type FetchOutcome struct {
	URL        string
	FinalURL   string
	Host       string
	Source     FetchSource
	StatusCode int
	Headers    http.Header
	Body       []byte
	Bytes      int64
	Duration   time.Duration
	FetchedAt  time.Time
	ErrorKind  ErrorKind
	ErrorText  string
}

// Failed reports whether the outcome carries a failure of any kind.
func (o FetchOutcome) Failed() bool {
	return o.ErrorKind != ErrKindNone
}

// Classification is the coarse validity verdict for a fetched body.
type Classification string

// Verdict classifications.
const (
	ClassOK          Classification = "ok"
	ClassSoftFailure Classification = "soft-failure"
	ClassHardFailure Classification = "hard-failure"
)

// Verdict is the result of content validation. A soft failure means the
// transport succeeded but the content warrants a headless retry; a hard
// failure means the content is unusable and the host should cool off.
type Verdict struct {
	Classification Classification
	Reason         string
}

// OK reports whether the verdict accepts the content.
func (v Verdict) OK() bool {
	return v.Classification == ClassOK
}

// ErrorKind maps the verdict onto the failure taxonomy.
func (v Verdict) ErrorKind() ErrorKind {
	switch v.Classification {
	case ClassSoftFailure:
		return ErrKindValidationSoft
	case ClassHardFailure:
		return ErrKindValidationHard
	default:
		return ErrKindNone
	}
}

// PageRecord is the persisted form of a successful fetch handed to the
// page store collaborator.
type PageRecord struct {
	RunID       string
	URL         string
	Host        string
	StatusCode  int
	Source      FetchSource
	ContentHash string
	BlobURI     string
	Headers     http.Header
	FetchedAt   time.Time
	DurationMs  int64
	Bytes       int64
}
