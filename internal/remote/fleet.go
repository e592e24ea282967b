package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// FleetIssue names one worker that failed the pre-run version check.
type FleetIssue struct {
	Worker     string
	APIVersion int
	Expected   int
	Err        error
}

func (i FleetIssue) String() string {
	if i.Err != nil {
		return fmt.Sprintf("%s: %v", i.Worker, i.Err)
	}
	return fmt.Sprintf("%s: apiVersion %d, expected %d", i.Worker, i.APIVersion, i.Expected)
}

// FleetCheckResult aggregates per-worker outcomes.
type FleetCheckResult struct {
	Expected int
	Checked  int
	Issues   []FleetIssue
}

// OK reports whether every worker matched the expected version.
func (r FleetCheckResult) OK() bool {
	return len(r.Issues) == 0
}

// CheckFleet calls /meta on each worker and compares the reported
// apiVersion against expected. Zero expected means this build's version.
// Unreachable workers count as issues so a long run fails fast.
func CheckFleet(ctx context.Context, workers []string, expected int, timeout time.Duration) FleetCheckResult {
	if expected == 0 {
		expected = APIVersion
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	result := FleetCheckResult{Expected: expected}

	for _, worker := range workers {
		base := strings.TrimRight(worker, "/")
		result.Checked++
		meta, err := fleetMeta(ctx, client, base)
		if err != nil {
			result.Issues = append(result.Issues, FleetIssue{Worker: base, Err: err})
			continue
		}
		if meta.APIVersion != expected {
			result.Issues = append(result.Issues, FleetIssue{Worker: base, APIVersion: meta.APIVersion, Expected: expected})
		}
	}
	return result
}

func fleetMeta(ctx context.Context, client *http.Client, base string) (MetaResponse, error) {
	var meta MetaResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/meta", nil)
	if err != nil {
		return meta, fmt.Errorf("build meta request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return meta, fmt.Errorf("call meta: %w", err)
	}
	defer drainClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return meta, fmt.Errorf("meta returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return meta, fmt.Errorf("decode meta response: %w", err)
	}
	return meta, nil
}
