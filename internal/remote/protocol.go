// Package remote implements the versioned fetch-worker protocol: the HTTP
// server workers expose, the client adapter the pipeline fetches through,
// and the fleet version check run before long crawls.
package remote

// APIVersion is the protocol version this build speaks. Servers report it
// in /meta, /health, and the x-worker-api-version response header; clients
// compare it against the fleet's expected version before long runs.
const APIVersion = 4

// VersionHeader carries the worker protocol version on /batch responses.
const VersionHeader = "x-worker-api-version"

// Capabilities is the feature set a worker advertises in /meta. Clients
// must not request a capability the worker did not advertise.
type Capabilities struct {
	IncludeBody bool `json:"includeBody"`
	Compression bool `json:"compression"`
}

// MetaResponse is the /meta handshake payload.
type MetaResponse struct {
	APIVersion   int          `json:"apiVersion"`
	Capabilities Capabilities `json:"capabilities"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	OK         bool `json:"ok"`
	APIVersion int  `json:"apiVersion"`
}

// BatchRequest asks a worker to fetch a list of URLs. IncludeBody may only
// be set when the worker advertised the includeBody capability.
type BatchRequest struct {
	Requests    []FetchRequest `json:"requests"`
	IncludeBody bool           `json:"includeBody"`
}

// FetchRequest describes one URL to fetch.
type FetchRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// BatchResponse is the /batch reply envelope.
type BatchResponse struct {
	Summary BatchSummary  `json:"summary"`
	Results []FetchResult `json:"results"`
}

// BatchSummary repeats the version inside the body for clients that cannot
// see response headers.
type BatchSummary struct {
	APIVersion int `json:"apiVersion"`
	Count      int `json:"count"`
}

// FetchResult is one per-URL outcome. BodyBase64 is set only when the
// request asked for bodies; binary content survives the JSON envelope.
type FetchResult struct {
	URL        string              `json:"url"`
	FinalURL   string              `json:"finalUrl,omitempty"`
	StatusCode int                 `json:"statusCode"`
	Headers    map[string][]string `json:"headers,omitempty"`
	BodyBase64 string              `json:"bodyBase64,omitempty"`
	Bytes      int64               `json:"bytes,omitempty"`
	DurationMs int64               `json:"durationMs,omitempty"`
	Error      string              `json:"error,omitempty"`
}
